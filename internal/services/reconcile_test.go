package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ycwei/tender-watch/internal/classify"
	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/pcc"
	"github.com/ycwei/tender-watch/internal/repository"
)

type fakeRepo struct {
	active   map[models.TenderIdentity]models.TenderRecord
	archived map[models.TenderIdentity]models.ArchivedTenderRecord
	deleted  []models.TenderIdentity
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		active:   make(map[models.TenderIdentity]models.TenderRecord),
		archived: make(map[models.TenderIdentity]models.ArchivedTenderRecord),
	}
}

func (f *fakeRepo) Exists(_ context.Context, id models.TenderIdentity) (bool, error) {
	_, ok := f.active[id]
	return ok, nil
}

func (f *fakeRepo) Insert(_ context.Context, rec models.TenderRecord) (bool, error) {
	if _, ok := f.active[rec.Identity]; ok {
		return false, nil
	}
	f.active[rec.Identity] = rec
	return true, nil
}

func (f *fakeRepo) Archive(_ context.Context, id models.TenderIdentity, reason models.ArchiveReason) error {
	rec, ok := f.active[id]
	if !ok {
		return fmt.Errorf("archive tender %s: not in active table", id)
	}
	delete(f.active, id)
	f.archived[id] = models.ArchivedTenderRecord{
		TenderRecord:  rec,
		ArchivedAt:    time.Now(),
		ArchiveReason: reason,
	}
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id models.TenderIdentity) error {
	delete(f.active, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for id, rec := range f.active {
		if rec.FirstSeenAt.Before(cutoff) {
			delete(f.active, id)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeRepo) CountActive(_ context.Context) (int, error) {
	return len(f.active), nil
}

func (f *fakeRepo) ActiveIdentities(_ context.Context) ([]models.TenderIdentity, error) {
	ids := make([]models.TenderIdentity, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeRepo) ListActive(_ context.Context, _ repository.ActiveFilter) ([]models.TenderRecord, error) {
	recs := make([]models.TenderRecord, 0, len(f.active))
	for _, rec := range f.active {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (f *fakeRepo) ListArchived(_ context.Context, _ []models.ArchiveReason) ([]models.ArchivedTenderRecord, error) {
	recs := make([]models.ArchivedTenderRecord, 0, len(f.archived))
	for _, rec := range f.archived {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (f *fakeRepo) TouchChecked(_ context.Context, id models.TenderIdentity, at time.Time) error {
	rec, ok := f.active[id]
	if !ok {
		return nil
	}
	rec.LastCheckedAt = at
	f.active[id] = rec
	return nil
}

func (f *fakeRepo) UpdateDetail(_ context.Context, rec models.TenderRecord) error {
	if _, ok := f.active[rec.Identity]; !ok {
		return nil
	}
	f.active[rec.Identity] = rec
	return nil
}

func (f *fakeRepo) MissingDetail(_ context.Context, limit int) ([]models.TenderRecord, error) {
	var recs []models.TenderRecord
	for _, rec := range f.active {
		if rec.DetailURL == "" || rec.UnitName == "" || rec.AwardType == "" {
			recs = append(recs, rec)
		}
		if limit > 0 && len(recs) == limit {
			break
		}
	}
	return recs, nil
}

type fakeListing struct {
	search map[string]*pcc.SearchResult
	byDate map[string][]pcc.Record
	err    error
}

func (f *fakeListing) SearchByTitle(_ context.Context, query string, _ int) (*pcc.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.search[query]; ok {
		return res, nil
	}
	return &pcc.SearchResult{}, nil
}

func (f *fakeListing) ListByDate(_ context.Context, date string) ([]pcc.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byDate[date], nil
}

type fakeResolver struct {
	details map[models.TenderIdentity]models.TenderDetail
}

func (f *fakeResolver) Resolve(_ context.Context, id models.TenderIdentity) (models.TenderDetail, bool) {
	detail, ok := f.details[id]
	return detail, ok
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Push(_ context.Context, message string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message)
	return nil
}

var testNow = time.Date(2025, 10, 20, 8, 0, 0, 0, time.Local)

func testOptions() Options {
	return Options{
		MinBudget:      150000,
		MaxBudget:      1500000,
		ScanWindowDays: 3,
		RetentionDays:  90,
		SearchKeywords: []string{"軟體", "網站"},
	}
}

func newTestService(repo repository.TenderRepository, listing Listing, resolver DetailResolver, notifier Notifier) *ReconcileService {
	s := NewReconcileService(
		zap.NewNop(),
		repo,
		listing,
		resolver,
		classify.New(classify.DefaultRuleSet()),
		notifier,
		testOptions(),
	)
	s.now = func() time.Time { return testNow }
	return s
}

func searchRecord(unitID, jobNumber, title string) pcc.Record {
	return pcc.Record{
		UnitID:    unitID,
		JobNumber: jobNumber,
		UnitName:  "XX市政府",
		Date:      20251020,
		Brief:     pcc.Brief{Type: "公開招標公告", Title: title},
	}
}

func fullDetail(budget, deadline string) models.TenderDetail {
	return models.TenderDetail{
		BudgetText:      budget,
		DeadlineText:    deadline,
		PkPmsMain:       "52023761",
		AwardType:       "最低標",
		IsElectronicBid: true,
		UnitName:        "XX市政府",
		Status:          "第一次公開招標",
	}
}

func TestMonitorAdmitsNewTender(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	listing := &fakeListing{search: map[string]*pcc.SearchResult{
		"網站": {Records: []pcc.Record{searchRecord(id.UnitID, id.JobNumber, "XX市政府官方網站建置案")}, TotalRecords: 1},
	}}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/27 17:00"),
	}}
	notifier := &fakeNotifier{}

	svc := newTestService(repo, listing, resolver, notifier)
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.AdmittedNew)
	require.Contains(t, repo.active, id)
	rec := repo.active[id]
	assert.Equal(t, int64(450000), rec.Budget)
	assert.Equal(t, time.Date(2025, 10, 27, 17, 0, 0, 0, time.Local), rec.Deadline)
	assert.Equal(t, "https://web.pcc.gov.tw/tps/QueryTender/query/searchTenderDetail?pkPmsMain=52023761", rec.DetailURL)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "XX市政府官方網站建置案")
}

func TestMonitorIsIdempotent(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	listing := &fakeListing{search: map[string]*pcc.SearchResult{
		"網站": {Records: []pcc.Record{searchRecord(id.UnitID, id.JobNumber, "官方網站建置案")}, TotalRecords: 1},
	}}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/27 17:00"),
	}}
	notifier := &fakeNotifier{}

	svc := newTestService(repo, listing, resolver, notifier)

	_, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	require.Len(t, notifier.messages, 1)

	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.AdmittedNew)
	assert.Len(t, notifier.messages, 1, "second run must not re-notify")
	assert.Len(t, repo.active, 1)
}

func TestMonitorBudgetBounds(t *testing.T) {
	tests := []struct {
		name   string
		budget string
		admit  bool
	}{
		{"below minimum", "149,999元", false},
		{"at minimum", "150,000元", true},
		{"at maximum", "1,500,000元", true},
		{"above maximum", "1,500,001元", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
			repo := newFakeRepo()
			listing := &fakeListing{search: map[string]*pcc.SearchResult{
				"網站": {Records: []pcc.Record{searchRecord(id.UnitID, id.JobNumber, "網站改版案")}, TotalRecords: 1},
			}}
			resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
				id: fullDetail(tt.budget, "114/10/27 17:00"),
			}}

			svc := newTestService(repo, listing, resolver, &fakeNotifier{})
			sum, err := svc.Monitor(context.Background())
			require.NoError(t, err)

			if tt.admit {
				assert.Equal(t, 1, sum.AdmittedNew)
			} else {
				assert.Equal(t, 0, sum.AdmittedNew)
				assert.Empty(t, repo.active)
			}
		})
	}
}

func TestMonitorRejectsPassedDeadline(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	listing := &fakeListing{search: map[string]*pcc.SearchResult{
		"網站": {Records: []pcc.Record{searchRecord(id.UnitID, id.JobNumber, "網站改版案")}, TotalRecords: 1},
	}}
	// Deadline equal to the current instant is not strictly in the future.
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/20 08:00"),
	}}

	svc := newTestService(repo, listing, resolver, &fakeNotifier{})
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.AdmittedNew)
	assert.Empty(t, repo.active)
}

func TestMonitorSkipsUnresolvableDetail(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	listing := &fakeListing{search: map[string]*pcc.SearchResult{
		"網站": {Records: []pcc.Record{searchRecord(id.UnitID, id.JobNumber, "網站改版案")}, TotalRecords: 1},
	}}

	svc := newTestService(repo, listing, &fakeResolver{}, &fakeNotifier{})
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.AdmittedNew)
	assert.Empty(t, repo.active)
}

func TestMonitorArchivesTerminalStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status string
		reason models.ArchiveReason
	}{
		{"awarded", "已決標", models.ReasonAwarded},
		{"cancelled", "公告取消", models.ReasonCancelled},
		{"voided", "廢標", models.ReasonVoided},
		{"failed", "流標", models.ReasonFailed},
		{"unawardable counts as failed", "無法決標公告", models.ReasonFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
			repo := newFakeRepo()
			repo.active[id] = models.TenderRecord{
				Identity:    id,
				Title:       "資訊系統建置案",
				Deadline:    testNow.Add(48 * time.Hour),
				FirstSeenAt: testNow.Add(-24 * time.Hour),
			}
			resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
				id: {Status: tt.status},
			}}

			svc := newTestService(repo, &fakeListing{}, resolver, &fakeNotifier{})
			sum, err := svc.Monitor(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, sum.Archived)
			assert.Empty(t, repo.active)
			require.Contains(t, repo.archived, id)
			assert.Equal(t, tt.reason, repo.archived[id].ArchiveReason)
		})
	}
}

func TestMonitorArchivesExpiredDeadline(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140102"}
	repo := newFakeRepo()
	repo.active[id] = models.TenderRecord{
		Identity:    id,
		Title:       "網站維護案",
		Deadline:    testNow.Add(-time.Hour),
		FirstSeenAt: testNow.Add(-24 * time.Hour),
	}

	svc := newTestService(repo, &fakeListing{}, &fakeResolver{}, &fakeNotifier{})
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Archived)
	require.Contains(t, repo.archived, id)
	assert.Equal(t, models.ReasonExpired, repo.archived[id].ArchiveReason)
}

func TestMonitorKeepsLiveTenders(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140103"}
	repo := newFakeRepo()
	repo.active[id] = models.TenderRecord{
		Identity:    id,
		Title:       "軟體開發案",
		Deadline:    testNow.Add(72 * time.Hour),
		FirstSeenAt: testNow.Add(-24 * time.Hour),
	}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: {Status: "第一次公開招標"},
	}}

	svc := newTestService(repo, &fakeListing{}, resolver, &fakeNotifier{})
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Archived)
	require.Contains(t, repo.active, id)
	assert.Equal(t, testNow, repo.active[id].LastCheckedAt)
}

func TestMonitorDeduplicatesAcrossKeywords(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	rec := searchRecord(id.UnitID, id.JobNumber, "軟體網站建置案")
	repo := newFakeRepo()
	listing := &fakeListing{search: map[string]*pcc.SearchResult{
		"軟體": {Records: []pcc.Record{rec}, TotalRecords: 1},
		"網站": {Records: []pcc.Record{rec}, TotalRecords: 1},
	}}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/27 17:00"),
	}}
	notifier := &fakeNotifier{}

	svc := newTestService(repo, listing, resolver, notifier)
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.AdmittedNew)
	require.Len(t, notifier.messages, 1)
}

func TestMonitorSurvivesSearchFailure(t *testing.T) {
	repo := newFakeRepo()
	listing := &fakeListing{err: errors.New("upstream down")}

	svc := newTestService(repo, listing, &fakeResolver{}, &fakeNotifier{})
	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.AdmittedNew)
}

func TestMonitorLogsRunSummary(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	listing := &fakeListing{search: map[string]*pcc.SearchResult{
		"網站": {Records: []pcc.Record{searchRecord(id.UnitID, id.JobNumber, "官方網站建置案")}, TotalRecords: 1},
	}}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/27 17:00"),
	}}

	core, logs := observer.New(zap.InfoLevel)
	svc := NewReconcileService(
		zap.New(core),
		repo,
		listing,
		resolver,
		classify.New(classify.DefaultRuleSet()),
		&fakeNotifier{},
		testOptions(),
	)
	svc.now = func() time.Time { return testNow }

	sum, err := svc.Monitor(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessage("reconciliation pass finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, sum.RunID, fields["run_id"])
	assert.Equal(t, "monitor", fields["mode"])
	assert.Equal(t, int64(1), fields["admitted_new"])
}

func TestResyncAdmitsFromWindow(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	listing := &fakeListing{byDate: map[string][]pcc.Record{
		testNow.Format("20060102"): {searchRecord(id.UnitID, id.JobNumber, "官方網站建置案")},
	}}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/27 17:00"),
	}}
	notifier := &fakeNotifier{}

	svc := newTestService(repo, listing, resolver, notifier)
	sum, err := svc.Resync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.AdmittedNew)
	require.Contains(t, repo.active, id)
	require.Len(t, notifier.messages, 1)
}

func TestResyncDeletesStaleRows(t *testing.T) {
	kept := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	stale := models.TenderIdentity{UnitID: "3.80", JobNumber: "1130001"}

	repo := newFakeRepo()
	repo.active[kept] = models.TenderRecord{Identity: kept, Title: "網站建置案", FirstSeenAt: testNow.Add(-24 * time.Hour)}
	repo.active[stale] = models.TenderRecord{Identity: stale, Title: "舊軟體採購案", FirstSeenAt: testNow.Add(-48 * time.Hour)}

	listing := &fakeListing{byDate: map[string][]pcc.Record{
		testNow.Format("20060102"): {searchRecord(kept.UnitID, kept.JobNumber, "網站建置案")},
	}}

	svc := newTestService(repo, listing, &fakeResolver{}, &fakeNotifier{})
	sum, err := svc.Resync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Deleted)
	assert.Contains(t, repo.active, kept)
	assert.NotContains(t, repo.active, stale)
	assert.Contains(t, repo.deleted, stale)
	// Hard delete, never archive.
	assert.Empty(t, repo.archived)
}

func TestResyncClassifierGate(t *testing.T) {
	admitted := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	excluded := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140102"}
	soft := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140103"}

	repo := newFakeRepo()
	listing := &fakeListing{byDate: map[string][]pcc.Record{
		testNow.Format("20060102"): {
			searchRecord(admitted.UnitID, admitted.JobNumber, "公文管理系統建置案"),
			searchRecord(excluded.UnitID, excluded.JobNumber, "電腦設備一批採購"),
			searchRecord(soft.UnitID, soft.JobNumber, "圖書館系統更換工程"),
		},
	}}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		admitted: fullDetail("450,000元", "114/10/27 17:00"),
		excluded: fullDetail("450,000元", "114/10/27 17:00"),
		soft:     fullDetail("450,000元", "114/10/27 17:00"),
	}}

	svc := newTestService(repo, listing, resolver, &fakeNotifier{})
	sum, err := svc.Resync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.AdmittedNew)
	assert.Contains(t, repo.active, admitted)
	assert.NotContains(t, repo.active, excluded)
	assert.NotContains(t, repo.active, soft)
}

func TestResyncPurgesOldRows(t *testing.T) {
	old := models.TenderIdentity{UnitID: "3.80", JobNumber: "1120001"}
	repo := newFakeRepo()
	repo.active[old] = models.TenderRecord{
		Identity:    old,
		Title:       "陳年軟體案",
		FirstSeenAt: testNow.AddDate(0, 0, -120),
	}

	svc := newTestService(repo, &fakeListing{}, &fakeResolver{}, &fakeNotifier{})
	sum, err := svc.Resync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Purged)
	assert.NotContains(t, repo.active, old)
}

func TestBackfillUpdatesMissingDetail(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	repo.active[id] = models.TenderRecord{
		Identity:    id,
		Title:       "網站建置案",
		FirstSeenAt: testNow.Add(-24 * time.Hour),
	}
	resolver := &fakeResolver{details: map[models.TenderIdentity]models.TenderDetail{
		id: fullDetail("450,000元", "114/10/27 17:00"),
	}}

	svc := NewBackfillService(zap.NewNop(), repo, resolver)
	svc.now = func() time.Time { return testNow }

	updated, err := svc.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	rec := repo.active[id]
	assert.Equal(t, int64(450000), rec.Budget)
	assert.Equal(t, "XX市政府", rec.UnitName)
	assert.Equal(t, "最低標", rec.AwardType)
	assert.Equal(t, testNow, rec.LastCheckedAt)
}

func TestBackfillLeavesUnresolvableRows(t *testing.T) {
	id := models.TenderIdentity{UnitID: "3.79", JobNumber: "1140101"}
	repo := newFakeRepo()
	repo.active[id] = models.TenderRecord{Identity: id, Title: "網站建置案", FirstSeenAt: testNow}

	svc := NewBackfillService(zap.NewNop(), repo, &fakeResolver{})
	updated, err := svc.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 0, updated)
	assert.Empty(t, repo.active[id].UnitName)
}

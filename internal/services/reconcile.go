package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ycwei/tender-watch/internal/classify"
	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/notify"
	"github.com/ycwei/tender-watch/internal/pcc"
	"github.com/ycwei/tender-watch/internal/repository"
	"github.com/ycwei/tender-watch/internal/textutil"
)

// Listing is the upstream search surface the reconciler consumes.
type Listing interface {
	SearchByTitle(ctx context.Context, query string, page int) (*pcc.SearchResult, error)
	ListByDate(ctx context.Context, date string) ([]pcc.Record, error)
}

// DetailResolver yields the authoritative enrichment tuple for an identity.
type DetailResolver interface {
	Resolve(ctx context.Context, id models.TenderIdentity) (models.TenderDetail, bool)
}

// Notifier pushes one finished text payload to the configured recipient.
type Notifier interface {
	Push(ctx context.Context, message string) error
}

// Options are the reconciliation tunables taken from configuration.
type Options struct {
	MinBudget      int64
	MaxBudget      int64
	ScanWindowDays int
	RetentionDays  int
	SearchKeywords []string
}

// RunSummary reports what one reconciliation pass did.
type RunSummary struct {
	RunID          string
	Mode           string
	Candidates     int
	AdmittedNew    int
	AlreadyTracked int
	Deleted        int
	Archived       int
	Purged         int64
}

// Terminal status tokens in match order. 無法決標 must be probed before 決標,
// which it contains.
var terminalStatuses = []struct {
	token  string
	reason models.ArchiveReason
}{
	{"取消", models.ReasonCancelled},
	{"廢標", models.ReasonVoided},
	{"流標", models.ReasonFailed},
	{"無法決標", models.ReasonFailed},
	{"決標", models.ReasonAwarded},
}

// ReconcileService drives both reconciliation modes against the store. The
// pipeline is single-threaded by design; pacing toward the upstream lives in
// the client, and nothing here is safe to run concurrently against the same
// store without external mutual exclusion.
type ReconcileService struct {
	log        *zap.Logger
	repo       repository.TenderRepository
	listing    Listing
	resolver   DetailResolver
	classifier *classify.Classifier
	notifier   Notifier
	opts       Options
	now        func() time.Time
}

func NewReconcileService(
	log *zap.Logger,
	repo repository.TenderRepository,
	listing Listing,
	resolver DetailResolver,
	classifier *classify.Classifier,
	notifier Notifier,
	opts Options,
) *ReconcileService {
	return &ReconcileService{
		log:        log,
		repo:       repo,
		listing:    listing,
		resolver:   resolver,
		classifier: classifier,
		notifier:   notifier,
		opts:       opts,
		now:        time.Now,
	}
}

// Resync scans the trailing window day by day and reconciles hard: active
// rows absent from the window are deleted outright, not archived. Long-lived
// tenders published before the window will be dropped too; the per-row
// warning below keeps that visible in the logs.
func (s *ReconcileService) Resync(ctx context.Context) (*RunSummary, error) {
	sum := &RunSummary{RunID: uuid.New().String(), Mode: "resync"}
	now := s.now()

	sum.Purged = s.purgeOld(ctx, now)

	candidates := s.scanWindow(ctx, now)
	sum.Candidates = len(candidates)

	currentKeys := make(map[models.TenderIdentity]struct{}, len(candidates))
	var admitted []models.TenderRecord

	for _, cand := range candidates {
		currentKeys[cand.Identity] = struct{}{}

		tracked, err := s.repo.Exists(ctx, cand.Identity)
		if err != nil {
			// Fail open: a duplicate notification beats silently losing a
			// tender when the store is unreachable for reads.
			s.log.Error("existence check failed, treating as new",
				zap.String("tender", cand.Identity.String()),
				zap.Error(err),
			)
			tracked = false
		}
		if tracked {
			if err := s.repo.TouchChecked(ctx, cand.Identity, now); err != nil {
				s.log.Error("touch failed", zap.String("tender", cand.Identity.String()), zap.Error(err))
			}
			continue
		}

		if rec, ok := s.admit(ctx, cand, now); ok {
			admitted = append(admitted, rec)
			sum.AdmittedNew++
		} else if rec.Identity != (models.TenderIdentity{}) {
			sum.AlreadyTracked++
		}
	}

	active, err := s.repo.ActiveIdentities(ctx)
	if err != nil {
		s.log.Error("listing active identities failed, skipping stale deletion", zap.Error(err))
	} else {
		for _, id := range active {
			if _, ok := currentKeys[id]; ok {
				continue
			}
			s.log.Warn("tender absent from scan window, deleting",
				zap.String("tender", id.String()),
			)
			if err := s.repo.Delete(ctx, id); err != nil {
				s.log.Error("stale delete failed", zap.String("tender", id.String()), zap.Error(err))
				continue
			}
			sum.Deleted++
		}
	}

	s.notifyNew(ctx, admitted)
	s.logSummary(sum)
	return sum, nil
}

// Monitor runs the lighter-weight pass: server-side keyword search for new
// candidates, then a status sweep over the active table. Tenders are never
// removed for being absent from the search results; they leave the active
// table only on a terminal upstream status or a passed deadline, with the
// matched reason recorded.
func (s *ReconcileService) Monitor(ctx context.Context) (*RunSummary, error) {
	sum := &RunSummary{RunID: uuid.New().String(), Mode: "monitor"}
	now := s.now()

	sum.Purged = s.purgeOld(ctx, now)

	var admitted []models.TenderRecord
	seen := make(map[models.TenderIdentity]struct{})

	for _, keyword := range s.opts.SearchKeywords {
		res, err := s.listing.SearchByTitle(ctx, keyword, 1)
		if err != nil {
			s.log.Error("search failed", zap.String("keyword", keyword), zap.Error(err))
			continue
		}
		s.log.Info("search results",
			zap.String("keyword", keyword),
			zap.Int("total", res.TotalRecords),
			zap.Int("page", len(res.Records)),
		)

		for _, rec := range res.Records {
			id := rec.Identity()
			// The same tender surfaces under several keywords.
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sum.Candidates++

			verdict := s.classifier.Classify(rec.Brief.Title)
			if !verdict.Admit {
				continue
			}

			tracked, err := s.repo.Exists(ctx, id)
			if err != nil {
				s.log.Error("existence check failed, treating as new",
					zap.String("tender", id.String()),
					zap.Error(err),
				)
				tracked = false
			}
			if tracked {
				continue
			}

			cand := models.Candidate{
				Identity:    id,
				Title:       rec.Brief.Title,
				UnitName:    rec.UnitName,
				MatchedRule: verdict.Rule,
			}
			if newRec, ok := s.admit(ctx, cand, now); ok {
				admitted = append(admitted, newRec)
				sum.AdmittedNew++
			} else if newRec.Identity != (models.TenderIdentity{}) {
				sum.AlreadyTracked++
			}
		}
	}

	sum.Archived = s.statusSweep(ctx, now)

	s.notifyNew(ctx, admitted)
	s.logSummary(sum)
	return sum, nil
}

// scanWindow lists each trailing calendar day and classifies every title.
// Per-day fetch failures are logged and skipped; the window is best-effort.
func (s *ReconcileService) scanWindow(ctx context.Context, now time.Time) []models.Candidate {
	seen := make(map[models.TenderIdentity]struct{})
	var candidates []models.Candidate

	for i := 0; i < s.opts.ScanWindowDays; i++ {
		date := now.AddDate(0, 0, -i).Format("20060102")
		records, err := s.listing.ListByDate(ctx, date)
		if err != nil {
			s.log.Error("day scan failed", zap.String("date", date), zap.Error(err))
			continue
		}
		s.log.Info("day scanned", zap.String("date", date), zap.Int("records", len(records)))

		for _, rec := range records {
			id := rec.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			verdict := s.classifier.Classify(rec.Brief.Title)
			if !verdict.Admit {
				continue
			}
			candidates = append(candidates, models.Candidate{
				Identity:    id,
				Title:       rec.Brief.Title,
				UnitName:    rec.UnitName,
				MatchedRule: verdict.Rule,
			})
		}
	}
	return candidates
}

// admit resolves detail for a classified candidate and applies the shared
// admission check: budget within the configured bounds (inclusive) and a
// deadline strictly in the future. Failing either is a silent skip. The
// second return value is true only for a fresh insert; a conflict reports
// the record with ok=false so callers can count it as already tracked.
func (s *ReconcileService) admit(ctx context.Context, cand models.Candidate, now time.Time) (models.TenderRecord, bool) {
	detail, found := s.resolver.Resolve(ctx, cand.Identity)
	if !found {
		s.log.Warn("detail unavailable, skipping candidate",
			zap.String("tender", cand.Identity.String()),
			zap.String("title", cand.Title),
		)
		return models.TenderRecord{}, false
	}

	budget, okBudget := textutil.ParseBudget(detail.BudgetText)
	deadline, okDeadline := textutil.ParseDate(detail.DeadlineText)
	if !okBudget || !okDeadline {
		s.log.Debug("incomplete detail, skipping candidate",
			zap.String("tender", cand.Identity.String()),
			zap.String("budget", detail.BudgetText),
			zap.String("deadline", detail.DeadlineText),
		)
		return models.TenderRecord{}, false
	}

	if budget < s.opts.MinBudget || budget > s.opts.MaxBudget {
		return models.TenderRecord{}, false
	}
	if !deadline.After(now) {
		return models.TenderRecord{}, false
	}

	unitName := cand.UnitName
	if detail.UnitName != "" {
		unitName = detail.UnitName
	}

	rec := models.TenderRecord{
		Identity:             cand.Identity,
		Title:                cand.Title,
		UnitName:             unitName,
		Budget:               budget,
		Deadline:             deadline,
		PkPmsMain:            detail.PkPmsMain,
		DetailURL:            models.DetailURL(detail.PkPmsMain),
		AwardType:            detail.AwardType,
		IsElectronicBid:      detail.IsElectronicBid,
		RequiresDeposit:      detail.RequiresDeposit,
		ContractDuration:     detail.ContractDuration,
		QualificationSummary: detail.QualificationSummary,
		Status:               detail.Status,
		FirstSeenAt:          now,
		LastCheckedAt:        now,
	}

	inserted, err := s.repo.Insert(ctx, rec)
	if err != nil {
		s.log.Error("insert failed", zap.String("tender", cand.Identity.String()), zap.Error(err))
		return models.TenderRecord{}, false
	}
	if !inserted {
		// Conflict: a concurrent run or an in-window duplicate got there
		// first. Already tracked, no notification.
		return rec, false
	}

	s.log.Info("tender admitted",
		zap.String("tender", cand.Identity.String()),
		zap.String("title", cand.Title),
		zap.Int64("budget", budget),
		zap.String("rule", string(cand.MatchedRule)),
	)
	return rec, true
}

// statusSweep refreshes every active tender's upstream status and archives
// the ones that reached a terminal state or whose deadline has passed.
func (s *ReconcileService) statusSweep(ctx context.Context, now time.Time) int {
	active, err := s.repo.ListActive(ctx, repository.ActiveFilter{IncludeExpired: true})
	if err != nil {
		s.log.Error("listing active tenders failed, skipping status sweep", zap.Error(err))
		return 0
	}

	archived := 0
	for _, rec := range active {
		if !rec.Deadline.IsZero() && !rec.Deadline.After(now) {
			if s.archive(ctx, rec.Identity, models.ReasonExpired) {
				archived++
			}
			continue
		}

		detail, found := s.resolver.Resolve(ctx, rec.Identity)
		if !found {
			continue
		}
		if reason, terminal := matchTerminalStatus(detail.Status); terminal {
			if s.archive(ctx, rec.Identity, reason) {
				archived++
			}
			continue
		}
		if err := s.repo.TouchChecked(ctx, rec.Identity, now); err != nil {
			s.log.Error("touch failed", zap.String("tender", rec.Identity.String()), zap.Error(err))
		}
	}
	return archived
}

func (s *ReconcileService) archive(ctx context.Context, id models.TenderIdentity, reason models.ArchiveReason) bool {
	if err := s.repo.Archive(ctx, id, reason); err != nil {
		s.log.Error("archive failed",
			zap.String("tender", id.String()),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		return false
	}
	s.log.Info("tender archived",
		zap.String("tender", id.String()),
		zap.String("reason", string(reason)),
	)
	return true
}

func (s *ReconcileService) purgeOld(ctx context.Context, now time.Time) int64 {
	cutoff := now.AddDate(0, 0, -s.opts.RetentionDays)
	purged, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("purge failed", zap.Error(err))
		return 0
	}
	if purged > 0 {
		s.log.Info("purged old tenders", zap.Int64("count", purged))
	}
	return purged
}

// logSummary emits the one-line record of what a pass did.
func (s *ReconcileService) logSummary(sum *RunSummary) {
	s.log.Info("reconciliation pass finished",
		zap.String("run_id", sum.RunID),
		zap.String("mode", sum.Mode),
		zap.Int("candidates", sum.Candidates),
		zap.Int("admitted_new", sum.AdmittedNew),
		zap.Int("already_tracked", sum.AlreadyTracked),
		zap.Int("deleted", sum.Deleted),
		zap.Int("archived", sum.Archived),
		zap.Int64("purged", sum.Purged),
	)
}

// notifyNew sends one message covering every freshly admitted tender. A run
// that admitted nothing stays silent.
func (s *ReconcileService) notifyNew(ctx context.Context, admitted []models.TenderRecord) {
	if len(admitted) == 0 || s.notifier == nil {
		return
	}
	message := notify.BuildNewTenderMessage(admitted)
	if err := s.notifier.Push(ctx, message); err != nil {
		s.log.Error("notification failed", zap.Int("tenders", len(admitted)), zap.Error(err))
		return
	}
	s.log.Info("notification sent", zap.Int("tenders", len(admitted)))
}

func matchTerminalStatus(status string) (models.ArchiveReason, bool) {
	for _, t := range terminalStatuses {
		if status != "" && strings.Contains(status, t.token) {
			return t.reason, true
		}
	}
	return "", false
}

package resolve

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/pcc"
)

// announcementType marks the record kind that carries authoritative tender
// data, as opposed to amendments, corrections and award notices.
const announcementType = "公開招標公告"

// Label keys inside the upstream detail map.
const (
	keyBudget        = "採購資料:預算金額"
	keyDeadline      = "領投開標:截止投標"
	keyPkPmsMain     = "pkPmsMain"
	keyAwardType     = "招標資料:決標方式"
	keyElectronicBid = "領投開標:是否提供電子投標"
	keyDeposit       = "領投開標:是否須繳納押標金"
	keyDuration      = "採購資料:履約期限"
	keyQualification = "廠商資格:廠商資格摘要"
	keyUnitName      = "機關資料:機關名稱"
	keyStatus        = "招標資料:標案狀態"
)

// RecordsFetcher returns all historical detail records for an identity.
type RecordsFetcher interface {
	TenderRecords(ctx context.Context, id models.TenderIdentity) ([]pcc.Record, error)
}

// Resolver picks the authoritative detail record for a tender identity and
// extracts its labeled fields into a structured result.
type Resolver struct {
	log     *zap.Logger
	fetcher RecordsFetcher
}

func New(log *zap.Logger, fetcher RecordsFetcher) *Resolver {
	return &Resolver{log: log, fetcher: fetcher}
}

// Resolve fetches the identity's records and disambiguates among them:
// public tender announcements are preferred; within the preferred set the
// record with the maximum publish date wins. Absent detail keys yield zero
// values. Any fetch failure is logged and reported as not-found; it is never
// fatal to the caller.
func (r *Resolver) Resolve(ctx context.Context, id models.TenderIdentity) (models.TenderDetail, bool) {
	records, err := r.fetcher.TenderRecords(ctx, id)
	if err != nil {
		r.log.Error("detail fetch failed",
			zap.String("tender", id.String()),
			zap.Error(err),
		)
		return models.TenderDetail{}, false
	}
	if len(records) == 0 {
		return models.TenderDetail{}, false
	}

	rec := pickAuthoritative(records)
	d := rec.Detail

	return models.TenderDetail{
		BudgetText:           stringField(d, keyBudget),
		DeadlineText:         stringField(d, keyDeadline),
		PkPmsMain:            stringField(d, keyPkPmsMain),
		AwardType:            stringField(d, keyAwardType),
		IsElectronicBid:      stringField(d, keyElectronicBid) == "是",
		RequiresDeposit:      stringField(d, keyDeposit) == "是",
		ContractDuration:     stringField(d, keyDuration),
		QualificationSummary: stringField(d, keyQualification),
		UnitName:             stringField(d, keyUnitName),
		Status:               stringField(d, keyStatus),
	}, true
}

// pickAuthoritative narrows to announcement records when any exist, then
// selects the latest publish date. Ties keep the later record in response
// order, matching upstream's append-only history.
func pickAuthoritative(records []pcc.Record) pcc.Record {
	pool := records
	var announcements []pcc.Record
	for _, rec := range records {
		if rec.Brief.Type == announcementType {
			announcements = append(announcements, rec)
		}
	}
	if len(announcements) > 0 {
		pool = announcements
	}

	best := pool[0]
	for _, rec := range pool[1:] {
		if rec.Date >= best.Date {
			best = rec
		}
	}
	return best
}

func stringField(detail map[string]any, key string) string {
	v, ok := detail[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

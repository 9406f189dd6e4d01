package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/repository"
	"github.com/ycwei/tender-watch/internal/textutil"
)

// BackfillService re-resolves detail for stored tenders that were admitted
// before enrichment fields existed, or whose resolution came back partial.
type BackfillService struct {
	log      *zap.Logger
	repo     repository.TenderRepository
	resolver DetailResolver
	now      func() time.Time
}

func NewBackfillService(log *zap.Logger, repo repository.TenderRepository, resolver DetailResolver) *BackfillService {
	return &BackfillService{
		log:      log,
		repo:     repo,
		resolver: resolver,
		now:      time.Now,
	}
}

// Run resolves up to limit rows missing enrichment and writes what it finds.
// Rows whose detail still cannot be resolved are left untouched for the next
// pass. Returns the number of rows updated.
func (s *BackfillService) Run(ctx context.Context, limit int) (int, error) {
	rows, err := s.repo.MissingDetail(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		s.log.Info("no tenders need backfill")
		return 0, nil
	}
	s.log.Info("backfilling tender details", zap.Int("rows", len(rows)))

	updated := 0
	now := s.now()
	for _, rec := range rows {
		detail, found := s.resolver.Resolve(ctx, rec.Identity)
		if !found {
			s.log.Warn("detail still unavailable", zap.String("tender", rec.Identity.String()))
			continue
		}

		merged := mergeDetail(rec, detail)
		merged.LastCheckedAt = now

		if err := s.repo.UpdateDetail(ctx, merged); err != nil {
			s.log.Error("update failed", zap.String("tender", rec.Identity.String()), zap.Error(err))
			continue
		}
		updated++
	}

	s.log.Info("backfill finished", zap.Int("updated", updated), zap.Int("scanned", len(rows)))
	return updated, nil
}

// mergeDetail overlays freshly resolved fields onto the stored record,
// keeping existing values where the new resolution came back empty.
func mergeDetail(rec models.TenderRecord, detail models.TenderDetail) models.TenderRecord {
	if budget, ok := textutil.ParseBudget(detail.BudgetText); ok {
		rec.Budget = budget
	}
	if deadline, ok := textutil.ParseDate(detail.DeadlineText); ok {
		rec.Deadline = deadline
	}
	if detail.PkPmsMain != "" {
		rec.PkPmsMain = detail.PkPmsMain
		rec.DetailURL = models.DetailURL(detail.PkPmsMain)
	}
	if detail.AwardType != "" {
		rec.AwardType = detail.AwardType
	}
	if detail.ContractDuration != "" {
		rec.ContractDuration = detail.ContractDuration
	}
	if detail.QualificationSummary != "" {
		rec.QualificationSummary = detail.QualificationSummary
	}
	if detail.UnitName != "" {
		rec.UnitName = detail.UnitName
	}
	if detail.Status != "" {
		rec.Status = detail.Status
	}
	rec.IsElectronicBid = detail.IsElectronicBid
	rec.RequiresDeposit = detail.RequiresDeposit
	return rec
}

package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/repository"
	"github.com/ycwei/tender-watch/internal/textutil"
)

var csvHeader = []string{
	"unit_id", "job_number", "title", "unit_name", "budget", "deadline",
	"award_type", "is_electronic_bid", "requires_deposit", "contract_duration",
	"status", "detail_url", "first_seen_at",
}

// Service renders stored tenders for the command line: a readable table on
// stdout or a CSV export for spreadsheets.
type Service struct {
	log  *zap.Logger
	repo repository.TenderRepository
}

func NewService(log *zap.Logger, repo repository.TenderRepository) *Service {
	return &Service{log: log, repo: repo}
}

// Active writes a table of active tenders matching the filter.
func (s *Service) Active(ctx context.Context, filter repository.ActiveFilter, w io.Writer) error {
	tenders, err := s.repo.ListActive(ctx, filter)
	if err != nil {
		return err
	}
	s.log.Info("rendering active tenders", zap.Int("rows", len(tenders)))
	writeTable(w, tenders)
	return nil
}

// ActiveCSV writes active tenders matching the filter as CSV.
func (s *Service) ActiveCSV(ctx context.Context, filter repository.ActiveFilter, w io.Writer) error {
	tenders, err := s.repo.ListActive(ctx, filter)
	if err != nil {
		return err
	}
	s.log.Info("exporting active tenders", zap.Int("rows", len(tenders)))
	return writeCSV(w, tenders)
}

// Archived writes a table of archived tenders, optionally limited to the
// given reasons.
func (s *Service) Archived(ctx context.Context, reasons []models.ArchiveReason, w io.Writer) error {
	archived, err := s.repo.ListArchived(ctx, reasons)
	if err != nil {
		return err
	}
	s.log.Info("rendering archived tenders", zap.Int("rows", len(archived)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENDER\tTITLE\tBUDGET\tARCHIVED\tREASON")
	for _, t := range archived {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Identity,
			truncate(t.Title, 40),
			budgetText(t.Budget),
			t.ArchivedAt.Format("2006-01-02"),
			t.ArchiveReason,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d archived tenders\n", len(archived))
	return nil
}

func writeTable(w io.Writer, tenders []models.TenderRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENDER\tTITLE\tUNIT\tBUDGET\tDEADLINE\tSTATUS")
	var total int64
	for _, t := range tenders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Identity,
			truncate(t.Title, 40),
			truncate(t.UnitName, 20),
			budgetText(t.Budget),
			deadlineText(t),
			t.Status,
		)
		total += t.Budget
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d tenders, total budget NT$ %d\n", len(tenders), total)
}

func writeCSV(w io.Writer, tenders []models.TenderRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range tenders {
		row := []string{
			t.Identity.UnitID,
			t.Identity.JobNumber,
			t.Title,
			t.UnitName,
			budgetText(t.Budget),
			deadlineText(t),
			t.AwardType,
			strconv.FormatBool(t.IsElectronicBid),
			strconv.FormatBool(t.RequiresDeposit),
			t.ContractDuration,
			t.Status,
			t.DetailURL,
			t.FirstSeenAt.Format(textutil.TimestampLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func budgetText(budget int64) string {
	if budget == 0 {
		return ""
	}
	return strconv.FormatInt(budget, 10)
}

func deadlineText(t models.TenderRecord) string {
	if t.Deadline.IsZero() {
		return ""
	}
	return t.Deadline.Format(textutil.TimestampLayout)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

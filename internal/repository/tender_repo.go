package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/ycwei/tender-watch/internal/models"
)

const tenderColumns = `unit_id, job_number, title, unit_name, budget, deadline, pk_pms_main,
	detail_url, award_type, is_electronic_bid, requires_deposit, contract_duration,
	qualification_summary, status, first_seen_at, last_checked_at`

// ActiveFilter narrows ListActive results. Zero values mean "no constraint".
type ActiveFilter struct {
	SinceDays      int    // first_seen_at within the trailing N days
	TitleKeyword   string // substring of title
	UnitKeyword    string // substring of unit_name
	MinBudget      int64
	MaxBudget      int64
	IncludeExpired bool // when false, only deadline > now()
}

// TenderRepository is the persistent store for tracked tenders. A tender
// lives in exactly one of the active and archive tables at any time.
type TenderRepository interface {
	Exists(ctx context.Context, id models.TenderIdentity) (bool, error)
	Insert(ctx context.Context, rec models.TenderRecord) (bool, error)
	Archive(ctx context.Context, id models.TenderIdentity, reason models.ArchiveReason) error
	Delete(ctx context.Context, id models.TenderIdentity) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountActive(ctx context.Context) (int, error)
	ActiveIdentities(ctx context.Context) ([]models.TenderIdentity, error)
	ListActive(ctx context.Context, filter ActiveFilter) ([]models.TenderRecord, error)
	ListArchived(ctx context.Context, reasons []models.ArchiveReason) ([]models.ArchivedTenderRecord, error)
	TouchChecked(ctx context.Context, id models.TenderIdentity, at time.Time) error
	UpdateDetail(ctx context.Context, rec models.TenderRecord) error
	MissingDetail(ctx context.Context, limit int) ([]models.TenderRecord, error)
}

// PostgresTenderRepository implements TenderRepository over a pgx pool.
type PostgresTenderRepository struct {
	DB *pgxpool.Pool
}

func NewPostgresTenderRepository(db *pgxpool.Pool) *PostgresTenderRepository {
	return &PostgresTenderRepository{DB: db}
}

// Exists reports whether an active row carries the composite key.
func (r *PostgresTenderRepository) Exists(ctx context.Context, id models.TenderIdentity) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tenders WHERE unit_id = $1 AND job_number = $2)`
	err := r.DB.QueryRow(ctx, query, id.UnitID, id.JobNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tender %s: %w", id, err)
	}
	return exists, nil
}

// Insert adds a tender to the active table. A composite-key conflict is the
// expected idempotency signal and reports false without an error.
func (r *PostgresTenderRepository) Insert(ctx context.Context, rec models.TenderRecord) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		INSERT INTO tenders (`+tenderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (unit_id, job_number) DO NOTHING`,
		rec.Identity.UnitID,
		rec.Identity.JobNumber,
		rec.Title,
		rec.UnitName,
		nullableBudget(rec.Budget),
		nullableTime(rec.Deadline),
		rec.PkPmsMain,
		rec.DetailURL,
		rec.AwardType,
		rec.IsElectronicBid,
		rec.RequiresDeposit,
		rec.ContractDuration,
		rec.QualificationSummary,
		rec.Status,
		rec.FirstSeenAt,
		rec.LastCheckedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert tender %s: %w", rec.Identity, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Archive moves a tender from the active table into the archive in one
// transaction. A partial move would break the partition invariant, so both
// statements commit or neither does.
func (r *PostgresTenderRepository) Archive(ctx context.Context, id models.TenderIdentity, reason models.ArchiveReason) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive tender %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO tenders_archive (`+tenderColumns+`, archived_at, archive_reason)
		SELECT `+tenderColumns+`, now(), $3
		FROM tenders WHERE unit_id = $1 AND job_number = $2`,
		id.UnitID, id.JobNumber, string(reason),
	)
	if err != nil {
		return fmt.Errorf("archive tender %s: copy: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archive tender %s: not in active table", id)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM tenders WHERE unit_id = $1 AND job_number = $2`,
		id.UnitID, id.JobNumber,
	); err != nil {
		return fmt.Errorf("archive tender %s: delete: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive tender %s: commit: %w", id, err)
	}
	return nil
}

// Delete removes an active row without archiving. Used by the hard-resync
// path for tenders no longer listed upstream.
func (r *PostgresTenderRepository) Delete(ctx context.Context, id models.TenderIdentity) error {
	_, err := r.DB.Exec(ctx,
		`DELETE FROM tenders WHERE unit_id = $1 AND job_number = $2`,
		id.UnitID, id.JobNumber,
	)
	if err != nil {
		return fmt.Errorf("delete tender %s: %w", id, err)
	}
	return nil
}

// PurgeOlderThan deletes active rows first seen before the cutoff. This is a
// volume-control measure, not a lifecycle transition: nothing is archived.
func (r *PostgresTenderRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM tenders WHERE first_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tenders before %s: %w", cutoff.Format("2006-01-02"), err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresTenderRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM tenders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tenders: %w", err)
	}
	return n, nil
}

// ActiveIdentities returns every composite key in the active table.
func (r *PostgresTenderRepository) ActiveIdentities(ctx context.Context) ([]models.TenderIdentity, error) {
	rows, err := r.DB.Query(ctx, `SELECT unit_id, job_number FROM tenders`)
	if err != nil {
		return nil, fmt.Errorf("list tender identities: %w", err)
	}
	defer rows.Close()

	var ids []models.TenderIdentity
	for rows.Next() {
		var id models.TenderIdentity
		if err := rows.Scan(&id.UnitID, &id.JobNumber); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActive returns active tenders matching the filter, newest first.
func (r *PostgresTenderRepository) ListActive(ctx context.Context, filter ActiveFilter) ([]models.TenderRecord, error) {
	query := `SELECT ` + tenderColumns + ` FROM tenders`
	var filters []string
	var args []interface{}
	argIndex := 1

	if filter.SinceDays > 0 {
		filters = append(filters, fmt.Sprintf("first_seen_at >= now() - $%d::interval", argIndex))
		args = append(args, fmt.Sprintf("%d days", filter.SinceDays))
		argIndex++
	}
	if filter.TitleKeyword != "" {
		filters = append(filters, fmt.Sprintf("title LIKE $%d", argIndex))
		args = append(args, "%"+filter.TitleKeyword+"%")
		argIndex++
	}
	if filter.UnitKeyword != "" {
		filters = append(filters, fmt.Sprintf("unit_name LIKE $%d", argIndex))
		args = append(args, "%"+filter.UnitKeyword+"%")
		argIndex++
	}
	if filter.MinBudget > 0 {
		filters = append(filters, fmt.Sprintf("budget >= $%d", argIndex))
		args = append(args, filter.MinBudget)
		argIndex++
	}
	if filter.MaxBudget > 0 {
		filters = append(filters, fmt.Sprintf("budget <= $%d", argIndex))
		args = append(args, filter.MaxBudget)
		argIndex++
	}
	if !filter.IncludeExpired {
		filters = append(filters, "deadline > now()")
	}

	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += " ORDER BY first_seen_at DESC"

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tenders: %w", err)
	}
	defer rows.Close()

	var tenders []models.TenderRecord
	for rows.Next() {
		rec, err := scanTender(rows)
		if err != nil {
			return nil, err
		}
		tenders = append(tenders, rec)
	}
	return tenders, rows.Err()
}

// ListArchived returns archived tenders, optionally limited to the given
// reasons, newest archive first.
func (r *PostgresTenderRepository) ListArchived(ctx context.Context, reasons []models.ArchiveReason) ([]models.ArchivedTenderRecord, error) {
	query := `SELECT ` + tenderColumns + `, archived_at, archive_reason FROM tenders_archive`
	var args []interface{}

	if len(reasons) > 0 {
		names := make([]string, len(reasons))
		for i, reason := range reasons {
			names[i] = string(reason)
		}
		query += ` WHERE archive_reason = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY archived_at DESC`

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archived tenders: %w", err)
	}
	defer rows.Close()

	var archived []models.ArchivedTenderRecord
	for rows.Next() {
		rec, err := scanArchivedTender(rows)
		if err != nil {
			return nil, err
		}
		archived = append(archived, rec)
	}
	return archived, rows.Err()
}

// TouchChecked stamps last_checked_at on an active row.
func (r *PostgresTenderRepository) TouchChecked(ctx context.Context, id models.TenderIdentity, at time.Time) error {
	_, err := r.DB.Exec(ctx,
		`UPDATE tenders SET last_checked_at = $1 WHERE unit_id = $2 AND job_number = $3`,
		at, id.UnitID, id.JobNumber,
	)
	if err != nil {
		return fmt.Errorf("touch tender %s: %w", id, err)
	}
	return nil
}

// UpdateDetail backfills the enrichment fields of an active row.
func (r *PostgresTenderRepository) UpdateDetail(ctx context.Context, rec models.TenderRecord) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE tenders
		SET unit_name = $3, budget = $4, deadline = $5, pk_pms_main = $6, detail_url = $7,
		    award_type = $8, is_electronic_bid = $9, requires_deposit = $10,
		    contract_duration = $11, qualification_summary = $12, status = $13,
		    last_checked_at = $14
		WHERE unit_id = $1 AND job_number = $2`,
		rec.Identity.UnitID,
		rec.Identity.JobNumber,
		rec.UnitName,
		nullableBudget(rec.Budget),
		nullableTime(rec.Deadline),
		rec.PkPmsMain,
		rec.DetailURL,
		rec.AwardType,
		rec.IsElectronicBid,
		rec.RequiresDeposit,
		rec.ContractDuration,
		rec.QualificationSummary,
		rec.Status,
		rec.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("update tender %s: %w", rec.Identity, err)
	}
	return nil
}

// MissingDetail returns active rows still lacking enrichment data, largest
// budget first so the most interesting tenders are filled in first.
func (r *PostgresTenderRepository) MissingDetail(ctx context.Context, limit int) ([]models.TenderRecord, error) {
	query := `SELECT ` + tenderColumns + `
		FROM tenders
		WHERE detail_url = '' OR unit_name = '' OR award_type = ''
		ORDER BY budget DESC NULLS LAST`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tenders missing detail: %w", err)
	}
	defer rows.Close()

	var tenders []models.TenderRecord
	for rows.Next() {
		rec, err := scanTender(rows)
		if err != nil {
			return nil, err
		}
		tenders = append(tenders, rec)
	}
	return tenders, rows.Err()
}

func scanTender(row pgx.Row) (models.TenderRecord, error) {
	var rec models.TenderRecord
	var budget *int64
	var deadline *time.Time

	err := row.Scan(
		&rec.Identity.UnitID,
		&rec.Identity.JobNumber,
		&rec.Title,
		&rec.UnitName,
		&budget,
		&deadline,
		&rec.PkPmsMain,
		&rec.DetailURL,
		&rec.AwardType,
		&rec.IsElectronicBid,
		&rec.RequiresDeposit,
		&rec.ContractDuration,
		&rec.QualificationSummary,
		&rec.Status,
		&rec.FirstSeenAt,
		&rec.LastCheckedAt,
	)
	if err != nil {
		return models.TenderRecord{}, err
	}
	if budget != nil {
		rec.Budget = *budget
	}
	if deadline != nil {
		rec.Deadline = *deadline
	}
	return rec, nil
}

func scanArchivedTender(row pgx.Row) (models.ArchivedTenderRecord, error) {
	var rec models.ArchivedTenderRecord
	var budget *int64
	var deadline *time.Time
	var reason string

	err := row.Scan(
		&rec.Identity.UnitID,
		&rec.Identity.JobNumber,
		&rec.Title,
		&rec.UnitName,
		&budget,
		&deadline,
		&rec.PkPmsMain,
		&rec.DetailURL,
		&rec.AwardType,
		&rec.IsElectronicBid,
		&rec.RequiresDeposit,
		&rec.ContractDuration,
		&rec.QualificationSummary,
		&rec.Status,
		&rec.FirstSeenAt,
		&rec.LastCheckedAt,
		&rec.ArchivedAt,
		&reason,
	)
	if err != nil {
		return models.ArchivedTenderRecord{}, err
	}
	if budget != nil {
		rec.Budget = *budget
	}
	if deadline != nil {
		rec.Deadline = *deadline
	}
	rec.ArchiveReason = models.ArchiveReason(reason)
	return rec, nil
}

// Unresolved budgets and deadlines are stored as NULL, not zero values, so
// older rows missing enrichment read back as empty defaults.
func nullableBudget(budget int64) *int64 {
	if budget == 0 {
		return nil
	}
	return &budget
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

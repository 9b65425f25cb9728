package stockaudit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/platform/db"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// TxRepository exposes the transactional audit operations together with a
// ledger TxStore over the same transaction, so the status flip and the
// adjustment movements commit or fail as one.
type TxRepository interface {
	InsertAudit(ctx context.Context, a Audit) (Audit, error)
	SnapshotLines(ctx context.Context, auditID, outletID int64) (int, error)
	GetAuditForUpdate(ctx context.Context, id int64) (Audit, error)
	GetLines(ctx context.Context, auditID int64) ([]LineItem, error)
	TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	ExistsOpenForPeriod(ctx context.Context, outletID int64, period shared.Period) (bool, error)
	UpdateCount(ctx context.Context, lineID, qty, actorID int64) error
	UpdateVarianceReason(ctx context.Context, lineID int64, reason, notes string) error
	Ledger() ledger.TxStore
}

// Repository persists audits in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stockaudit repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Ledger() ledger.TxStore {
	return ledger.NewTxStore(t.tx)
}

// InsertAudit creates the audit row. stock_audits carries a partial unique
// index on (outlet_id, period) WHERE status NOT IN ('cancelled','rejected');
// of two concurrent creators for the same outlet and period the loser
// surfaces here as a unique violation, classified transient so the caller's
// retry re-runs the existence check against the committed winner.
func (t *txRepo) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_audits (public_id, code, outlet_id, period, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		a.PublicID, a.Code, a.OutletID, a.Period.String(), string(a.Status), a.CreatedBy).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Audit{}, shared.ClassifyPgError(err)
	}
	return a, nil
}

// SnapshotLines freezes system quantities for every tracked item at the
// outlet. Draft and archived items are out of count scope; the snapshot is
// the on-hand figure the physical count is compared against.
func (t *txRepo) SnapshotLines(ctx context.Context, auditID, outletID int64) (int, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO stock_audit_lines (audit_id, item_id, system_quantity)
SELECT $1, i.id, COALESCE(s.available, 0)
FROM items i
LEFT JOIN stock_summaries s ON s.item_id = i.id AND s.outlet_id = i.outlet_id
WHERE i.outlet_id = $2 AND i.status NOT IN ('draft','archived')`, auditID, outletID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *txRepo) GetAuditForUpdate(ctx context.Context, id int64) (Audit, error) {
	a, err := scanAudit(t.tx.QueryRow(ctx, `SELECT id, public_id, code, outlet_id, period, status, created_by, created_at, updated_at
FROM stock_audits WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Audit{}, fmt.Errorf("%w: audit %d", shared.ErrNotFound, id)
		}
		return Audit{}, err
	}
	return a, nil
}

func (t *txRepo) GetLines(ctx context.Context, auditID int64) ([]LineItem, error) {
	rows, err := t.tx.Query(ctx, lineSelect+` WHERE l.audit_id=$1 ORDER BY l.id`, auditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

// TransitionStatus is the guarded state flip: the write lands only when
// the stored status still matches. A false return means another caller got
// there first, which is how approval stays exactly-once.
func (t *txRepo) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_audits SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return false, shared.ClassifyPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) ExistsOpenForPeriod(ctx context.Context, outletID int64, period shared.Period) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_audits
WHERE outlet_id=$1 AND period=$2 AND status NOT IN ('cancelled','rejected'))`,
		outletID, period.String()).Scan(&exists)
	return exists, err
}

// UpdateCount records a physical quantity. Callers hold the audit row lock
// via GetAuditForUpdate, which serializes count edits against an in-flight
// submit; the status predicate is the in-database backstop.
func (t *txRepo) UpdateCount(ctx context.Context, lineID, qty, actorID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_audit_lines l SET physical_quantity=$2, counted_by=$3, counted_at=NOW()
FROM stock_audits a
WHERE l.id=$1 AND a.id = l.audit_id AND a.status IN ('counting','review')`, lineID, qty, actorID)
	if err != nil {
		return shared.ClassifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: audit line %d is not countable", shared.ErrInvalidTransition, lineID)
	}
	return nil
}

// UpdateVarianceReason records the explanation for a non-zero variance.
// Same locking discipline as UpdateCount.
func (t *txRepo) UpdateVarianceReason(ctx context.Context, lineID int64, reason, notes string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_audit_lines l SET variance_reason=$2, variance_notes=$3
FROM stock_audits a
WHERE l.id=$1 AND a.id = l.audit_id AND a.status IN ('counting','review')`, lineID, reason, notes)
	if err != nil {
		return shared.ClassifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: audit line %d is not editable", shared.ErrInvalidTransition, lineID)
	}
	return nil
}

const lineSelect = `SELECT l.id, l.audit_id, l.item_id, i.code, l.system_quantity, l.physical_quantity,
COALESCE(l.variance_reason,''), COALESCE(l.variance_notes,''), COALESCE(l.counted_by,0), l.counted_at
FROM stock_audit_lines l JOIN items i ON i.id = l.item_id`

// GetAudit loads one audit with line items.
func (r *Repository) GetAudit(ctx context.Context, id int64) (View, error) {
	if r == nil {
		return View{}, errors.New("stockaudit repository not initialised")
	}
	a, err := scanAudit(r.pool.QueryRow(ctx, `SELECT id, public_id, code, outlet_id, period, status, created_by, created_at, updated_at
FROM stock_audits WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, fmt.Errorf("%w: audit %d", shared.ErrNotFound, id)
		}
		return View{}, err
	}
	rows, err := r.pool.Query(ctx, lineSelect+` WHERE l.audit_id=$1 ORDER BY l.id`, id)
	if err != nil {
		return View{}, err
	}
	defer rows.Close()
	lines, err := scanLines(rows)
	if err != nil {
		return View{}, err
	}
	return View{Audit: a, PeriodLabel: a.Period.String(), Lines: lines}, nil
}

// ListFilter scopes audit listings.
type ListFilter struct {
	OutletID int64
	Status   Status
	Period   shared.Period
}

// ListAudits returns audits without line items, newest first.
func (r *Repository) ListAudits(ctx context.Context, filter ListFilter) ([]View, error) {
	if r == nil {
		return nil, errors.New("stockaudit repository not initialised")
	}
	period := ""
	if !filter.Period.IsZero() {
		period = filter.Period.String()
	}
	rows, err := r.pool.Query(ctx, `SELECT id, public_id, code, outlet_id, period, status, created_by, created_at, updated_at
FROM stock_audits
WHERE ($1 = 0 OR outlet_id = $1)
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR period = $3)
ORDER BY created_at DESC, id DESC`, filter.OutletID, string(filter.Status), period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	audits := []View{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, View{Audit: a, PeriodLabel: a.Period.String()})
	}
	return audits, rows.Err()
}

// ListStale returns open audits untouched for longer than maxAge, oldest
// first. Used by the reminder job to surface counts that stalled mid-cycle.
func (r *Repository) ListStale(ctx context.Context, maxAge time.Duration) ([]Audit, error) {
	if r == nil {
		return nil, errors.New("stockaudit repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, public_id, code, outlet_id, period, status, created_by, created_at, updated_at
FROM stock_audits
WHERE status IN ('counting','review','pending_approval') AND updated_at < NOW() - make_interval(secs => $1)
ORDER BY updated_at ASC`, maxAge.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	audits := []Audit{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// GetLine loads one line item with its parent audit, for count updates.
func (r *Repository) GetLine(ctx context.Context, lineID int64) (LineItem, Audit, error) {
	if r == nil {
		return LineItem{}, Audit{}, errors.New("stockaudit repository not initialised")
	}
	var line LineItem
	var audit Audit
	var period, status string
	var countedAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT l.id, l.audit_id, l.item_id, i.code, l.system_quantity, l.physical_quantity,
COALESCE(l.variance_reason,''), COALESCE(l.variance_notes,''), COALESCE(l.counted_by,0), l.counted_at,
a.id, a.public_id, a.code, a.outlet_id, a.period, a.status, a.created_by, a.created_at, a.updated_at
FROM stock_audit_lines l
JOIN items i ON i.id = l.item_id
JOIN stock_audits a ON a.id = l.audit_id
WHERE l.id=$1`, lineID).
		Scan(&line.ID, &line.AuditID, &line.ItemID, &line.ItemCode, &line.SystemQuantity, &line.PhysicalQuantity,
			&line.VarianceReason, &line.VarianceNotes, &line.CountedBy, &countedAt,
			&audit.ID, &audit.PublicID, &audit.Code, &audit.OutletID, &period, &status, &audit.CreatedBy, &audit.CreatedAt, &audit.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LineItem{}, Audit{}, fmt.Errorf("%w: audit line %d", shared.ErrNotFound, lineID)
		}
		return LineItem{}, Audit{}, err
	}
	line.CountedAt = countedAt
	audit.Status = Status(status)
	audit.Period, _ = shared.ParsePeriod(period)
	return line, audit, nil
}

func scanAudit(row pgx.Row) (Audit, error) {
	var a Audit
	var period, status string
	if err := row.Scan(&a.ID, &a.PublicID, &a.Code, &a.OutletID, &period, &status, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Audit{}, err
	}
	a.Status = Status(status)
	a.Period, _ = shared.ParsePeriod(period)
	return a, nil
}

func scanLines(rows pgx.Rows) ([]LineItem, error) {
	lines := []LineItem{}
	for rows.Next() {
		var line LineItem
		var countedAt *time.Time
		if err := rows.Scan(&line.ID, &line.AuditID, &line.ItemID, &line.ItemCode, &line.SystemQuantity, &line.PhysicalQuantity,
			&line.VarianceReason, &line.VarianceNotes, &line.CountedBy, &countedAt); err != nil {
			return nil, err
		}
		line.CountedAt = countedAt
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

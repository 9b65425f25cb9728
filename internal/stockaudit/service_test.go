package stockaudit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

type memoryRepo struct {
	items     map[int64]ledger.ItemInfo
	itemCodes map[int64]string
	summaries map[string]ledger.Summary
	movements []ledger.Movement
	audits    map[int64]Audit
	lines     map[int64]LineItem
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:     make(map[int64]ledger.ItemInfo),
		itemCodes: make(map[int64]string),
		summaries: make(map[string]ledger.Summary),
		audits:    make(map[int64]Audit),
		lines:     make(map[int64]LineItem),
	}
}

func key(itemID, outletID int64) string {
	return fmt.Sprintf("%d:%d", itemID, outletID)
}

func (r *memoryRepo) clone() *memoryRepo {
	shadow := newMemoryRepo()
	shadow.items = r.items
	shadow.itemCodes = r.itemCodes
	shadow.movements = append([]ledger.Movement(nil), r.movements...)
	shadow.nextID = r.nextID
	for k, v := range r.summaries {
		shadow.summaries[k] = v
	}
	for k, v := range r.audits {
		shadow.audits[k] = v
	}
	for k, v := range r.lines {
		shadow.lines[k] = v
	}
	return shadow
}

// WithTx buffers writes so a failed callback leaves nothing behind,
// matching transaction rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	shadow := r.clone()
	if err := fn(ctx, &memoryTx{repo: shadow}); err != nil {
		return err
	}
	r.summaries = shadow.summaries
	r.movements = shadow.movements
	r.audits = shadow.audits
	r.lines = shadow.lines
	r.nextID = shadow.nextID
	return nil
}

func (r *memoryRepo) auditLines(auditID int64) []LineItem {
	lines := []LineItem{}
	for id := int64(1); id <= r.nextID; id++ {
		if line, ok := r.lines[id]; ok && line.AuditID == auditID {
			lines = append(lines, line)
		}
	}
	return lines
}

func (r *memoryRepo) GetAudit(ctx context.Context, id int64) (View, error) {
	a, ok := r.audits[id]
	if !ok {
		return View{}, fmt.Errorf("%w: audit %d", shared.ErrNotFound, id)
	}
	return View{Audit: a, PeriodLabel: a.Period.String(), Lines: r.auditLines(id)}, nil
}

func (r *memoryRepo) ListAudits(ctx context.Context, filter ListFilter) ([]View, error) {
	result := []View{}
	for _, a := range r.audits {
		if filter.OutletID != 0 && a.OutletID != filter.OutletID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		result = append(result, View{Audit: a, PeriodLabel: a.Period.String()})
	}
	return result, nil
}

func (r *memoryRepo) GetLine(ctx context.Context, lineID int64) (LineItem, Audit, error) {
	line, ok := r.lines[lineID]
	if !ok {
		return LineItem{}, Audit{}, fmt.Errorf("%w: audit line %d", shared.ErrNotFound, lineID)
	}
	return line, r.audits[line.AuditID], nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Ledger() ledger.TxStore {
	return &ledgerTx{repo: t.repo}
}

func (t *memoryTx) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	t.repo.nextID++
	a.ID = t.repo.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	t.repo.audits[a.ID] = a
	return a, nil
}

func (t *memoryTx) SnapshotLines(ctx context.Context, auditID, outletID int64) (int, error) {
	count := 0
	for id, item := range t.repo.items {
		if item.OutletID != outletID || item.Status == "draft" || item.Status == "archived" {
			continue
		}
		t.repo.nextID++
		t.repo.lines[t.repo.nextID] = LineItem{
			ID:             t.repo.nextID,
			AuditID:        auditID,
			ItemID:         id,
			ItemCode:       t.repo.itemCodes[id],
			SystemQuantity: t.repo.summaries[key(id, outletID)].Available,
		}
		count++
	}
	return count, nil
}

func (t *memoryTx) GetAuditForUpdate(ctx context.Context, id int64) (Audit, error) {
	a, ok := t.repo.audits[id]
	if !ok {
		return Audit{}, fmt.Errorf("%w: audit %d", shared.ErrNotFound, id)
	}
	return a, nil
}

func (t *memoryTx) GetLines(ctx context.Context, auditID int64) ([]LineItem, error) {
	return t.repo.auditLines(auditID), nil
}

func (t *memoryTx) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	a, ok := t.repo.audits[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	t.repo.audits[id] = a
	return true, nil
}

func (t *memoryTx) ExistsOpenForPeriod(ctx context.Context, outletID int64, period shared.Period) (bool, error) {
	for _, a := range t.repo.audits {
		if a.OutletID == outletID && a.Period == period && a.Status != StatusCancelled && a.Status != StatusRejected {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) UpdateCount(ctx context.Context, lineID, qty, actorID int64) error {
	line, ok := t.repo.lines[lineID]
	if !ok || !t.repo.audits[line.AuditID].Status.Countable() {
		return fmt.Errorf("%w: audit line %d is not countable", shared.ErrInvalidTransition, lineID)
	}
	now := time.Now()
	line.PhysicalQuantity = &qty
	line.CountedBy = actorID
	line.CountedAt = &now
	t.repo.lines[lineID] = line
	return nil
}

func (t *memoryTx) UpdateVarianceReason(ctx context.Context, lineID int64, reason, notes string) error {
	line, ok := t.repo.lines[lineID]
	if !ok || !t.repo.audits[line.AuditID].Status.Countable() {
		return fmt.Errorf("%w: audit line %d is not editable", shared.ErrInvalidTransition, lineID)
	}
	line.VarianceReason = reason
	line.VarianceNotes = notes
	t.repo.lines[lineID] = line
	return nil
}

type ledgerTx struct {
	repo *memoryRepo
}

func (l *ledgerTx) GetItem(ctx context.Context, itemID int64) (ledger.ItemInfo, error) {
	if item, ok := l.repo.items[itemID]; ok {
		return item, nil
	}
	return ledger.ItemInfo{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
}

func (l *ledgerTx) GetSummaryForUpdate(ctx context.Context, itemID, outletID int64) (ledger.Summary, error) {
	if sum, ok := l.repo.summaries[key(itemID, outletID)]; ok {
		return sum, nil
	}
	return ledger.Summary{ItemID: itemID, OutletID: outletID}, ledger.ErrSummaryNotFound
}

func (l *ledgerTx) UpsertSummary(ctx context.Context, sum ledger.Summary) error {
	l.repo.summaries[key(sum.ItemID, sum.OutletID)] = sum
	return nil
}

func (l *ledgerTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	l.repo.nextID++
	m.ID = l.repo.nextID
	l.repo.movements = append(l.repo.movements, m)
	return m.ID, nil
}

type fakeCodes struct {
	n int
}

func (f *fakeCodes) GenerateCode(ctx context.Context, entity, prefix string, outletID int64) (string, error) {
	f.n++
	return fmt.Sprintf("%s-TST-%03d", prefix, f.n), nil
}

var (
	manager    = shared.Actor{ID: 7, Role: shared.RoleManager, OutletID: 1}
	admin      = shared.Actor{ID: 1, Role: shared.RoleAdmin}
	accountant = shared.Actor{ID: 9, Role: shared.RoleAccountant, OutletID: 1}
)

var testNow = func() time.Time {
	return time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
}

func period(s string) shared.Period {
	p, err := shared.ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, &fakeCodes{}, nil, nil, nil).WithNow(testNow)
}

func seedItem(repo *memoryRepo, id int64, available int64) {
	repo.items[id] = ledger.ItemInfo{ID: id, OutletID: 1, Status: ledger.ItemStatusActive}
	repo.itemCodes[id] = fmt.Sprintf("ITEM-%03d", id)
	repo.summaries[key(id, 1)] = ledger.Summary{ItemID: id, OutletID: 1, Available: available}
	if repo.nextID < id {
		repo.nextID = id
	}
}

func countAll(t *testing.T, svc *Service, view View, quantities map[int64]int64) {
	t.Helper()
	for _, line := range view.Lines {
		qty, ok := quantities[line.ItemID]
		if !ok {
			qty = line.SystemQuantity
		}
		_, err := svc.UpdateCount(context.Background(), manager, line.ID, qty)
		require.NoError(t, err)
	}
}

func TestCreateAudit(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	seedItem(repo, 2, 40)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	require.Equal(t, StatusCounting, view.Status)
	require.Len(t, view.Lines, 2)
	for _, line := range view.Lines {
		require.False(t, line.Counted())
	}

	// One open audit per outlet and period.
	_, err = svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-09"), Actor: manager})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-07"), Actor: accountant})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestSnapshotIsImmutable(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	require.Equal(t, int64(90), view.Lines[0].SystemQuantity)

	// Stock moves after the snapshot; the frozen figure must not follow.
	sum := repo.summaries[key(1, 1)]
	sum.Available = 120
	repo.summaries[key(1, 1)] = sum

	view, err = svc.GetAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90), view.Lines[0].SystemQuantity)
}

func TestSubmitIncompleteAudit(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	seedItem(repo, 2, 40)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)

	// Nothing counted yet.
	_, err = svc.SubmitAudit(ctx, manager, view.ID)
	require.ErrorIs(t, err, shared.ErrIncompleteAudit)

	after, err := svc.GetAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCounting, after.Status)

	// Counted with an unexplained variance.
	countAll(t, svc, view, map[int64]int64{1: 85})
	_, err = svc.SubmitAudit(ctx, manager, view.ID)
	require.ErrorIs(t, err, shared.ErrIncompleteAudit)
	require.Empty(t, repo.movements)
}

func TestSubmitAutoApprovesWithoutShortage(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	seedItem(repo, 2, 40)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)

	// Item 1 exact, item 2 three units over.
	countAll(t, svc, view, map[int64]int64{2: 43})
	for _, line := range view.Lines {
		if line.ItemID == 2 {
			_, err = svc.UpdateVarianceReason(ctx, manager, line.ID, "unrecorded_in", "found crate from last delivery")
			require.NoError(t, err)
		}
	}

	after, err := svc.SubmitAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, after.Status)

	require.Len(t, repo.movements, 1)
	require.Equal(t, ledger.CategoryAdjustIn, repo.movements[0].Category)
	require.Equal(t, int64(3), repo.movements[0].Quantity)
	require.Equal(t, ledger.ReferenceAudit, repo.movements[0].ReferenceType)
	require.Equal(t, int64(43), repo.summaries[key(2, 1)].Available)
	require.Equal(t, int64(90), repo.summaries[key(1, 1)].Available)
}

func TestSubmitExactCountEmitsNothing(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	countAll(t, svc, view, nil)

	after, err := svc.SubmitAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, after.Status)
	require.Empty(t, repo.movements)
}

func TestShortageRequiresApproval(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	countAll(t, svc, view, map[int64]int64{1: 85})
	_, err = svc.UpdateVarianceReason(ctx, manager, view.Lines[0].ID, "breakage", "five plates broken in wash")
	require.NoError(t, err)

	after, err := svc.SubmitAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, after.Status)
	require.Empty(t, repo.movements, "pending audit must not touch the ledger")

	// Managers cannot approve.
	_, err = svc.ApproveAudit(ctx, manager, view.ID, true, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	after, err = svc.ApproveAudit(ctx, admin, view.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, after.Status)

	require.Len(t, repo.movements, 1)
	require.Equal(t, ledger.CategoryAdjustOut, repo.movements[0].Category)
	require.Equal(t, int64(5), repo.movements[0].Quantity)
	require.Equal(t, int64(85), repo.summaries[key(1, 1)].Available)

	// A second approval changes nothing: one adjustment, same balance.
	_, err = svc.ApproveAudit(ctx, admin, view.ID, true, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Len(t, repo.movements, 1)
	require.Equal(t, int64(85), repo.summaries[key(1, 1)].Available)
}

func TestRejectWritesNothing(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	countAll(t, svc, view, map[int64]int64{1: 85})
	_, err = svc.UpdateVarianceReason(ctx, manager, view.Lines[0].ID, "theft", "")
	require.NoError(t, err)
	_, err = svc.SubmitAudit(ctx, manager, view.ID)
	require.NoError(t, err)

	_, err = svc.ApproveAudit(ctx, admin, view.ID, false, "")
	require.ErrorIs(t, err, shared.ErrValidation, "rejection requires a reason")

	after, err := svc.ApproveAudit(ctx, admin, view.ID, false, "recount next week")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, after.Status)
	require.Empty(t, repo.movements)
	require.Equal(t, int64(90), repo.summaries[key(1, 1)].Available)

	// A rejected audit frees the period for a fresh cycle.
	_, err = svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
}

func TestCancelAudit(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)

	after, err := svc.CancelAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, after.Status)
	require.Empty(t, repo.movements)

	_, err = svc.CancelAudit(ctx, manager, view.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	// Counts are frozen once cancelled.
	_, err = svc.UpdateCount(ctx, manager, view.Lines[0].ID, 10)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestReviewRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	countAll(t, svc, view, nil)

	after, err := svc.MarkReview(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReview, after.Status)

	// Counts stay editable in review.
	_, err = svc.UpdateCount(ctx, manager, view.Lines[0].ID, 90)
	require.NoError(t, err)

	after, err = svc.SubmitAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, after.Status)
}

func TestUpdateCountValidation(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)

	_, err = svc.UpdateCount(ctx, manager, view.Lines[0].ID, -1)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateCount(ctx, accountant, view.Lines[0].ID, 10)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.UpdateVarianceReason(ctx, manager, view.Lines[0].ID, "gremlins", "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateCount(ctx, manager, view.Lines[0].ID, 85)
	require.NoError(t, err)
	_, err = svc.UpdateVarianceReason(ctx, manager, view.Lines[0].ID, "damage_not_logged", "cracked set found in storage")
	require.NoError(t, err)
}

// staleLineRepo serves a pre-lock snapshot of the audit: GetLine always
// reports counting, the way a reader racing a submit would see it before
// blocking on the audit row lock.
type staleLineRepo struct {
	*memoryRepo
}

func (r *staleLineRepo) GetLine(ctx context.Context, lineID int64) (LineItem, Audit, error) {
	line, audit, err := r.memoryRepo.GetLine(ctx, lineID)
	audit.Status = StatusCounting
	return line, audit, err
}

func TestCountEditLosesToConcurrentSubmit(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)
	countAll(t, svc, view, nil)

	after, err := svc.SubmitAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, after.Status)

	// The editor read the line while the audit was still counting; by the
	// time its write runs, the submit has committed. The locked re-check
	// must turn the edit away instead of corrupting the approved count.
	stale := NewService(&staleLineRepo{memoryRepo: repo}, &fakeCodes{}, nil, nil, nil).WithNow(testNow)
	_, err = stale.UpdateCount(ctx, manager, view.Lines[0].ID, 70)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = stale.UpdateVarianceReason(ctx, manager, view.Lines[0].ID, "miscount", "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	final, err := svc.GetAudit(ctx, manager, view.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90), *final.Lines[0].PhysicalQuantity)
	require.Empty(t, final.Lines[0].VarianceReason)
	require.Empty(t, repo.movements)
}

// racingCreateRepo makes the first existence check miss a concurrently
// committed audit, so the insert collides with the partial unique index on
// (outlet_id, period).
type racingCreateRepo struct {
	*memoryRepo
	missExists bool
}

func (r *racingCreateRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.memoryRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, &racingCreateTx{TxRepository: tx, repo: r})
	})
}

type racingCreateTx struct {
	TxRepository
	repo *racingCreateRepo
}

func (t *racingCreateTx) ExistsOpenForPeriod(ctx context.Context, outletID int64, period shared.Period) (bool, error) {
	if t.repo.missExists {
		t.repo.missExists = false
		return false, nil
	}
	return t.TxRepository.ExistsOpenForPeriod(ctx, outletID, period)
}

func (t *racingCreateTx) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	open, err := t.TxRepository.ExistsOpenForPeriod(ctx, a.OutletID, a.Period)
	if err != nil {
		return Audit{}, err
	}
	if open {
		return Audit{}, fmt.Errorf("%w: duplicate key value violates unique constraint", shared.ErrTransientConflict)
	}
	return t.TxRepository.InsertAudit(ctx, a)
}

func TestCreateAuditRaceLosesOnUniqueIndex(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 1, 90)
	racing := &racingCreateRepo{memoryRepo: repo}
	svc := NewService(racing, &fakeCodes{}, nil, nil, nil).WithNow(testNow)
	ctx := context.Background()

	_, err := svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.NoError(t, err)

	// The second creator's snapshot predates the first commit: the
	// existence check misses, the insert loses on the unique index, and
	// the retried attempt reports the friendly duplicate error.
	racing.missExists = true
	_, err = svc.CreateAudit(ctx, CreateInput{OutletID: 1, Period: period("2026-08"), Actor: manager})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.False(t, racing.missExists, "first attempt must have run against the stale snapshot")
	require.Len(t, repo.audits, 1)
}

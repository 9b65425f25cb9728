package item

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

type memoryRepo struct {
	items   map[int64]Item
	outlets map[int64]Outlet
	seeded  map[int64]int64 // item id -> summary available
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item), outlets: make(map[int64]Outlet), seeded: make(map[int64]int64)}
}

func (r *memoryRepo) CreateItem(ctx context.Context, it Item) (Item, error) {
	r.nextID++
	it.ID = r.nextID
	r.items[it.ID] = it
	return it, nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	if it, ok := r.items[id]; ok {
		return it, nil
	}
	return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	result := []Item{}
	for _, it := range r.items {
		if filter.OutletID != 0 && it.OutletID != filter.OutletID {
			continue
		}
		if filter.Status != "" && it.Status != filter.Status {
			continue
		}
		result = append(result, it)
	}
	return result, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	it, ok := r.items[id]
	if !ok || it.Status != from {
		return fmt.Errorf("%w: item %d is no longer %s", shared.ErrInvalidTransition, id, from)
	}
	it.Status = to
	r.items[id] = it
	return nil
}

func (r *memoryRepo) ConfirmOpeningBalance(ctx context.Context, id int64) (Item, error) {
	it, ok := r.items[id]
	if !ok || it.OpeningBalanceConfirmed {
		return Item{}, fmt.Errorf("%w: opening balance already confirmed or item %d missing", shared.ErrInvalidTransition, id)
	}
	it.OpeningBalanceConfirmed = true
	r.items[id] = it
	r.seeded[id] += it.OpeningBalance
	return it, nil
}

func (r *memoryRepo) CreateOutlet(ctx context.Context, o Outlet) (Outlet, error) {
	r.nextID++
	o.ID = r.nextID
	r.outlets[o.ID] = o
	return o, nil
}

func (r *memoryRepo) ListOutlets(ctx context.Context) ([]Outlet, error) {
	result := []Outlet{}
	for _, o := range r.outlets {
		result = append(result, o)
	}
	return result, nil
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

func TestCreateItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeCodes{}, nil)

	it, err := svc.Create(context.Background(), CreateInput{
		Name: "Dinner Set 12pc", Category: "tableware", Unit: "set",
		OutletID: 1, OpeningBalance: 40, Actor: manager,
	})
	require.NoError(t, err)
	require.Equal(t, "ITEM-TST-001", it.Code)
	require.Equal(t, StatusDraft, it.Status)
	require.False(t, it.OpeningBalanceConfirmed)

	_, err = svc.Create(context.Background(), CreateInput{Name: "", OutletID: 1, Actor: manager})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{Name: "x", OutletID: 1, OpeningBalance: -1, Actor: manager})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{Name: "x", OutletID: 1, Actor: accountant})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestLifecycleTransitions(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeCodes{}, nil)
	ctx := context.Background()

	it, err := svc.Create(ctx, CreateInput{Name: "Chafing Dish", OutletID: 1, Actor: manager})
	require.NoError(t, err)

	it, err = svc.UpdateLifecycle(ctx, manager, it.ID, StatusActive)
	require.NoError(t, err)
	require.Equal(t, StatusActive, it.Status)

	// active -> draft is not a legal move.
	_, err = svc.UpdateLifecycle(ctx, manager, it.ID, StatusDraft)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	it, err = svc.UpdateLifecycle(ctx, manager, it.ID, StatusDiscontinued)
	require.NoError(t, err)

	it, err = svc.UpdateLifecycle(ctx, manager, it.ID, StatusArchived)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, it.Status)

	_, err = svc.UpdateLifecycle(ctx, manager, it.ID, StatusActive)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestConfirmOpeningBalanceIsOneWay(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeCodes{}, nil)
	ctx := context.Background()

	it, err := svc.Create(ctx, CreateInput{Name: "Glassware Crate", OutletID: 1, OpeningBalance: 120, Actor: manager})
	require.NoError(t, err)

	confirmed, err := svc.ConfirmOpeningBalance(ctx, manager, it.ID)
	require.NoError(t, err)
	require.True(t, confirmed.OpeningBalanceConfirmed)
	require.Equal(t, int64(120), repo.seeded[it.ID])

	_, err = svc.ConfirmOpeningBalance(ctx, manager, it.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(120), repo.seeded[it.ID], "second confirmation must not double-seed")
}

func TestOutletManagementRequiresAdmin(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeCodes{}, nil)
	ctx := context.Background()

	_, err := svc.CreateOutlet(ctx, manager, Outlet{Code: "blr", Name: "Bangalore"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	outlet, err := svc.CreateOutlet(ctx, admin, Outlet{Code: "blr", Name: "Bangalore"})
	require.NoError(t, err)
	require.Equal(t, "BLR", outlet.Code)
}

func TestListScopesNonAdmins(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeCodes{}, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "A", OutletID: 1, Actor: admin})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "B", OutletID: 2, Actor: admin})
	require.NoError(t, err)

	items, err := svc.List(ctx, manager, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = svc.List(ctx, admin, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
}

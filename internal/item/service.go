package item

import (
	"context"
	"fmt"
	"strings"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	CreateItem(ctx context.Context, it Item) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filter ListFilter) ([]Item, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	ConfirmOpeningBalance(ctx context.Context, id int64) (Item, error)
	CreateOutlet(ctx context.Context, o Outlet) (Outlet, error)
	ListOutlets(ctx context.Context) ([]Outlet, error)
}

// CodeGenerator issues item codes.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, entity, prefix string, outletID int64) (string, error)
}

// ActivityPort abstracts the who-did-what trail.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// Service coordinates item-master operations.
type Service struct {
	repo     RepositoryPort
	codes    CodeGenerator
	activity ActivityPort
	policy   shared.Policy
}

// NewService constructs Service.
func NewService(repo RepositoryPort, codes CodeGenerator, activity ActivityPort) *Service {
	return &Service{repo: repo, codes: codes, activity: activity}
}

// CreateInput describes a new item.
type CreateInput struct {
	Name           string
	Category       string
	Unit           string
	OutletID       int64
	OpeningBalance int64
	Actor          shared.Actor
}

// Create registers a draft item with a generated code. The whole creation
// retries on transient conflicts, regenerating the code each attempt so a
// lost code-unique race never wedges the caller.
func (s *Service) Create(ctx context.Context, input CreateInput) (Item, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Item{}, fmt.Errorf("%w: item name required", shared.ErrValidation)
	}
	if input.OutletID == 0 {
		return Item{}, fmt.Errorf("%w: outlet required", shared.ErrValidation)
	}
	if input.OpeningBalance < 0 {
		return Item{}, fmt.Errorf("%w: opening balance cannot be negative", shared.ErrValidation)
	}
	if err := s.policy.CanRecordMovement(input.Actor, input.OutletID); err != nil {
		return Item{}, err
	}

	var created Item
	err := shared.Retry(ctx, shared.RetryBudget, func(ctx context.Context) error {
		code, err := s.codes.GenerateCode(ctx, "item", "ITEM", input.OutletID)
		if err != nil {
			return err
		}
		created, err = s.repo.CreateItem(ctx, Item{
			Code:           code,
			Name:           strings.TrimSpace(input.Name),
			Category:       input.Category,
			Unit:           input.Unit,
			OutletID:       input.OutletID,
			Status:         StatusDraft,
			OpeningBalance: input.OpeningBalance,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, input.Actor, "item:create", created.Code, map[string]any{"item_id": created.ID, "outlet_id": created.OutletID})
	return created, nil
}

// Get loads one item.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Item, error) {
	it, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if err := s.policy.CanViewInventory(actor, it.OutletID); err != nil {
		return Item{}, err
	}
	return it, nil
}

// List returns items, outlet-scoped for non-admins.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Item, error) {
	if err := s.policy.CanViewInventory(actor, filter.OutletID); err != nil {
		return nil, err
	}
	if actor.Role != shared.RoleAdmin && filter.OutletID == 0 {
		filter.OutletID = actor.OutletID
	}
	return s.repo.ListItems(ctx, filter)
}

// UpdateLifecycle moves an item along the bounded lifecycle.
func (s *Service) UpdateLifecycle(ctx context.Context, actor shared.Actor, id int64, to Status) (Item, error) {
	if !to.Valid() {
		return Item{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, to)
	}
	it, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if err := s.policy.CanRecordMovement(actor, it.OutletID); err != nil {
		return Item{}, err
	}
	if !it.Status.CanTransition(to) {
		return Item{}, fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, it.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, it.Status, to); err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, fmt.Sprintf("item:%s", to), it.Code, map[string]any{"item_id": it.ID, "from": string(it.Status)})
	it.Status = to
	return it, nil
}

// ConfirmOpeningBalance flips the one-way latch. Until confirmed the
// opening quantity contributes nothing to balances; afterwards it becomes
// the aggregation base and can no longer change.
func (s *Service) ConfirmOpeningBalance(ctx context.Context, actor shared.Actor, id int64) (Item, error) {
	it, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if err := s.policy.CanRecordMovement(actor, it.OutletID); err != nil {
		return Item{}, err
	}
	confirmed, err := s.repo.ConfirmOpeningBalance(ctx, id)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, "item:confirm_opening", confirmed.Code, map[string]any{
		"item_id": confirmed.ID, "opening_balance": confirmed.OpeningBalance,
	})
	return confirmed, nil
}

// CreateOutlet registers an outlet. Admin only: outlets are global scope.
func (s *Service) CreateOutlet(ctx context.Context, actor shared.Actor, o Outlet) (Outlet, error) {
	if actor.Role != shared.RoleAdmin {
		return Outlet{}, fmt.Errorf("%w: outlet management requires admin", shared.ErrForbidden)
	}
	o.Code = strings.ToUpper(strings.TrimSpace(o.Code))
	if o.Code == "" || strings.TrimSpace(o.Name) == "" {
		return Outlet{}, fmt.Errorf("%w: outlet code and name required", shared.ErrValidation)
	}
	created, err := s.repo.CreateOutlet(ctx, o)
	if err != nil {
		return Outlet{}, err
	}
	s.record(ctx, actor, "outlet:create", created.Code, map[string]any{"outlet_id": created.ID})
	return created, nil
}

// ListOutlets returns all outlets.
func (s *Service) ListOutlets(ctx context.Context, actor shared.Actor) ([]Outlet, error) {
	if !actor.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", shared.ErrForbidden, actor.Role)
	}
	return s.repo.ListOutlets(ctx)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.activity == nil {
		return
	}
	entity := "item"
	if strings.HasPrefix(action, "outlet:") {
		entity = "outlet"
	}
	_ = s.activity.Record(ctx, shared.ActivityLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

package allocation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]View, error)
	Get(ctx context.Context, id int64) (View, error)
}

// CodeGenerator issues allocation and movement codes.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, entity, prefix string, outletID int64) (string, error)
}

// ActivityPort abstracts the who-did-what trail.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// Service coordinates allocation and resolution.
type Service struct {
	repo       RepositoryPort
	codes      CodeGenerator
	activity   ActivityPort
	policy     shared.Policy
	onMovement func(category string)
}

// NewService constructs Service.
func NewService(repo RepositoryPort, codes CodeGenerator, activity ActivityPort, onMovement func(category string)) *Service {
	return &Service{repo: repo, codes: codes, activity: activity, onMovement: onMovement}
}

// AllocateInput describes a new stock issue.
type AllocateInput struct {
	ItemID        int64
	OutletID      int64
	ReferenceType ledger.ReferenceType
	ReferenceID   string
	Quantity      int64
	Notes         string
	Actor         shared.Actor
}

// Allocate issues stock in a single transaction: the summary row is
// locked, availability re-checked under the lock, and the allocation plus
// its outflow movement land together or not at all.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (View, error) {
	if input.ItemID == 0 || input.OutletID == 0 {
		return View{}, fmt.Errorf("%w: item and outlet required", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return View{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if !allocatableReferences[input.ReferenceType] {
		return View{}, fmt.Errorf("%w: cannot allocate against %q", shared.ErrValidation, input.ReferenceType)
	}
	if input.ReferenceType != ledger.ReferenceManual && input.ReferenceID == "" {
		return View{}, fmt.Errorf("%w: reference id required", shared.ErrValidation)
	}
	if err := s.policy.CanAllocate(input.Actor, input.OutletID); err != nil {
		return View{}, err
	}

	allocCode, err := s.codes.GenerateCode(ctx, "allocation", "ALO", input.OutletID)
	if err != nil {
		return View{}, err
	}
	movementCode, err := s.codes.GenerateCode(ctx, "movement", "MOV", input.OutletID)
	if err != nil {
		return View{}, err
	}

	allocation := Allocation{
		Code:          allocCode,
		ItemID:        input.ItemID,
		OutletID:      input.OutletID,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Quantity:      input.Quantity,
		IsActive:      true,
		CreatedBy:     input.Actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.Ledger().GetItem(ctx, input.ItemID)
		if err != nil {
			return err
		}
		if item.OutletID != input.OutletID {
			return fmt.Errorf("%w: item %d belongs to outlet %d", shared.ErrValidation, input.ItemID, item.OutletID)
		}
		if item.Status != ledger.ItemStatusActive {
			return fmt.Errorf("%w: item %d is %s, only active items allocate", shared.ErrValidation, input.ItemID, item.Status)
		}
		id, err := tx.InsertAllocation(ctx, allocation)
		if err != nil {
			return err
		}
		allocation.ID = id
		movement, err := ledger.Append(ctx, tx.Ledger(), ledger.Movement{
			Code:          movementCode,
			ItemID:        input.ItemID,
			OutletID:      input.OutletID,
			Category:      ledger.CategoryOutflow,
			Quantity:      input.Quantity,
			ReferenceType: ledger.ReferenceAllocation,
			ReferenceID:   strconv.FormatInt(id, 10),
			Notes:         input.Notes,
			CreatedBy:     input.Actor.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.LinkOutflowMovement(ctx, id, movement.ID); err != nil {
			return err
		}
		allocation.OutflowMovementID = movement.ID
		return nil
	})
	if err != nil {
		return View{}, err
	}

	if s.onMovement != nil {
		s.onMovement(string(ledger.CategoryOutflow))
	}
	s.record(ctx, input.Actor, "allocation:create", allocation.Code, map[string]any{
		"allocation_id": allocation.ID, "item_id": allocation.ItemID, "quantity": allocation.Quantity,
	})
	return View{Allocation: allocation, Outstanding: allocation.Quantity}, nil
}

// ResolveInput describes outstanding units coming to rest.
type ResolveInput struct {
	AllocationID int64
	Quantity     int64
	Kind         ResolutionKind
	Notes        string
	Actor        shared.Actor
}

// Resolve records a return, damage, or loss against an allocation.
// Outstanding is recomputed from movements under the row lock, so partial
// resolutions can never overshoot the allocated quantity.
func (s *Service) Resolve(ctx context.Context, input ResolveInput) (View, error) {
	if input.Quantity <= 0 {
		return View{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	category, err := input.Kind.Category()
	if err != nil {
		return View{}, err
	}

	current, err := s.repo.Get(ctx, input.AllocationID)
	if err != nil {
		return View{}, err
	}
	if err := s.policy.CanAllocate(input.Actor, current.OutletID); err != nil {
		return View{}, err
	}
	movementCode, err := s.codes.GenerateCode(ctx, "movement", "MOV", current.OutletID)
	if err != nil {
		return View{}, err
	}

	var result View
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		allocation, err := tx.GetAllocationForUpdate(ctx, input.AllocationID)
		if err != nil {
			return err
		}
		if !allocation.IsActive {
			return fmt.Errorf("%w: allocation %d is closed", shared.ErrInvalidTransition, allocation.ID)
		}
		resolved, err := tx.SumResolved(ctx, allocation.ID)
		if err != nil {
			return err
		}
		outstanding := allocation.Quantity - resolved
		if input.Quantity > outstanding {
			return fmt.Errorf("%w: outstanding %d < resolving %d", shared.ErrInsufficientOutstanding, outstanding, input.Quantity)
		}
		_, err = ledger.Append(ctx, tx.Ledger(), ledger.Movement{
			Code:          movementCode,
			ItemID:        allocation.ItemID,
			OutletID:      allocation.OutletID,
			Category:      category,
			Quantity:      input.Quantity,
			ReferenceType: ledger.ReferenceAllocation,
			ReferenceID:   strconv.FormatInt(allocation.ID, 10),
			Notes:         input.Notes,
			CreatedBy:     input.Actor.ID,
		})
		if err != nil {
			return err
		}
		outstanding -= input.Quantity
		if outstanding == 0 {
			if err := tx.CloseAllocation(ctx, allocation.ID); err != nil {
				return err
			}
			allocation.IsActive = false
		}
		result = View{Allocation: allocation, Resolved: allocation.Quantity - outstanding, Outstanding: outstanding}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	if s.onMovement != nil {
		s.onMovement(string(category))
	}
	s.record(ctx, input.Actor, fmt.Sprintf("allocation:%s", input.Kind), result.Code, map[string]any{
		"allocation_id": result.ID, "quantity": input.Quantity, "outstanding": result.Outstanding,
	})
	return result, nil
}

// GetAllocations lists allocations for a business document with live
// outstanding totals.
func (s *Service) GetAllocations(ctx context.Context, actor shared.Actor, filter ListFilter) ([]View, error) {
	if err := s.policy.CanViewInventory(actor, filter.OutletID); err != nil {
		return nil, err
	}
	if actor.Role != shared.RoleAdmin && filter.OutletID == 0 {
		filter.OutletID = actor.OutletID
	}
	return s.repo.List(ctx, filter)
}

// Get loads one allocation.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (View, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.policy.CanViewInventory(actor, v.OutletID); err != nil {
		return View{}, err
	}
	return v, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.activity == nil {
		return
	}
	_ = s.activity.Record(ctx, shared.ActivityLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "allocation",
		EntityID: entityID,
		Meta:     meta,
	})
}

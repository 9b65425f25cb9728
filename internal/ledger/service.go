package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error)
	GetSummary(ctx context.Context, itemID, outletID int64) (Summary, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	AggregateBalances(ctx context.Context, itemID, outletID int64) (Balances, error)
}

// CodeGenerator issues human-readable movement codes.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, entity, prefix string, outletID int64) (string, error)
}

// ActivityPort abstracts the who-did-what trail.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// Service coordinates ledger writes and balance reads.
type Service struct {
	repo        RepositoryPort
	codes       CodeGenerator
	activity    ActivityPort
	idempotency *shared.IdempotencyStore
	policy      shared.Policy
	onMovement  func(category string)
}

// NewService builds Service. onMovement, when non-nil, is invoked after
// each durable movement (metrics hook).
func NewService(repo RepositoryPort, codes CodeGenerator, activity ActivityPort, idem *shared.IdempotencyStore, onMovement func(category string)) *Service {
	return &Service{repo: repo, codes: codes, activity: activity, idempotency: idem, onMovement: onMovement}
}

// RecordInput describes a direct ledger write (stock-in, repair round
// trips). Allocation and audit movements go through their own services.
type RecordInput struct {
	ItemID         int64
	OutletID       int64
	Category       Category
	Quantity       int64
	ReferenceType  ReferenceType
	ReferenceID    string
	Notes          string
	IdempotencyKey string
	Actor          shared.Actor
}

// directCategories are the movements callers may record directly. Outflow,
// return, damage, and loss belong to the allocation tracker; adjustments
// belong to audit approval.
var directCategories = map[Category]bool{
	CategoryInflow:    true,
	CategoryRepairOut: true,
	CategoryRepairIn:  true,
}

// RecordMovement validates and appends one movement. The insert either
// fully succeeds with one durable row or fully fails with no partial state.
func (s *Service) RecordMovement(ctx context.Context, input RecordInput) (Movement, error) {
	if input.ItemID == 0 || input.OutletID == 0 {
		return Movement{}, fmt.Errorf("%w: item and outlet required", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Movement{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if !directCategories[input.Category] {
		return Movement{}, fmt.Errorf("%w: category %q cannot be recorded directly", shared.ErrValidation, input.Category)
	}
	if err := s.policy.CanRecordMovement(input.Actor, input.OutletID); err != nil {
		return Movement{}, err
	}
	if input.ReferenceType == "" {
		input.ReferenceType = ReferenceManual
	}

	code, err := s.codes.GenerateCode(ctx, "movement", "MOV", input.OutletID)
	if err != nil {
		return Movement{}, err
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ledger"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	movement := Movement{
		Code:          code,
		ItemID:        input.ItemID,
		OutletID:      input.OutletID,
		Category:      input.Category,
		Quantity:      input.Quantity,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		CreatedBy:     input.Actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		item, err := tx.GetItem(ctx, input.ItemID)
		if err != nil {
			return err
		}
		if item.OutletID != input.OutletID {
			return fmt.Errorf("%w: item %d belongs to outlet %d", shared.ErrValidation, input.ItemID, item.OutletID)
		}
		if item.Status == "archived" {
			return fmt.Errorf("%w: item %d is archived", shared.ErrValidation, input.ItemID)
		}
		recorded, err := Append(ctx, tx, movement)
		if err != nil {
			return err
		}
		movement = recorded
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Movement{}, err
	}

	if s.onMovement != nil {
		s.onMovement(string(movement.Category))
	}
	if s.activity != nil {
		_ = s.activity.Record(ctx, shared.ActivityLog{
			ActorID:  input.Actor.ID,
			Action:   fmt.Sprintf("ledger:%s", movement.Category),
			Entity:   "stock_movement",
			EntityID: movement.Code,
			Meta: map[string]any{
				"item_id":   movement.ItemID,
				"outlet_id": movement.OutletID,
				"quantity":  movement.Quantity,
			},
		})
	}
	return movement, nil
}

// Append records one movement through an open transaction: lock the
// summary row, fold the movement in, insert the immutable row, refresh the
// cache. Allocation and audit repositories reuse this so every write path
// shares the same guards.
func Append(ctx context.Context, tx TxStore, m Movement) (Movement, error) {
	summary, err := tx.GetSummaryForUpdate(ctx, m.ItemID, m.OutletID)
	if err != nil && !errors.Is(err, ErrSummaryNotFound) {
		return Movement{}, err
	}
	next, err := Apply(summary, m.Category, m.Quantity)
	if err != nil {
		return Movement{}, err
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	if err := tx.UpsertSummary(ctx, next); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Balances returns the cached projection for one item/outlet. Correctness
// is defined as equality with AggregateBalances.
func (s *Service) Balances(ctx context.Context, actor shared.Actor, itemID, outletID int64) (Balances, error) {
	if itemID == 0 || outletID == 0 {
		return Balances{}, fmt.Errorf("%w: item and outlet required", shared.ErrValidation)
	}
	if err := s.policy.CanViewInventory(actor, outletID); err != nil {
		return Balances{}, err
	}
	summary, err := s.repo.GetSummary(ctx, itemID, outletID)
	if err != nil && !errors.Is(err, ErrSummaryNotFound) {
		return Balances{}, err
	}
	return BalancesOf(summary), nil
}

// GetBalances lists balance rows for UI and reporting.
func (s *Service) GetBalances(ctx context.Context, actor shared.Actor, filter BalanceFilter) ([]BalanceRow, error) {
	if err := s.policy.CanViewInventory(actor, filter.OutletID); err != nil {
		return nil, err
	}
	if actor.Role != shared.RoleAdmin && filter.OutletID == 0 {
		filter.OutletID = actor.OutletID
	}
	return s.repo.GetBalances(ctx, filter)
}

// ListMovements returns ledger history for an item or outlet.
func (s *Service) ListMovements(ctx context.Context, actor shared.Actor, filter MovementFilter) ([]Movement, error) {
	if err := s.policy.CanViewInventory(actor, filter.OutletID); err != nil {
		return nil, err
	}
	if actor.Role != shared.RoleAdmin && filter.OutletID == 0 {
		filter.OutletID = actor.OutletID
	}
	return s.repo.ListMovements(ctx, filter)
}

// VerifySummary compares the cached summary against a full aggregation.
// The integrity job calls this per item; any divergence is a bug.
func (s *Service) VerifySummary(ctx context.Context, itemID, outletID int64) (bool, Balances, Balances, error) {
	summary, err := s.repo.GetSummary(ctx, itemID, outletID)
	if err != nil && !errors.Is(err, ErrSummaryNotFound) {
		return false, Balances{}, Balances{}, err
	}
	stored := BalancesOf(summary)
	computed, err := s.repo.AggregateBalances(ctx, itemID, outletID)
	if err != nil {
		return false, Balances{}, Balances{}, err
	}
	return stored == computed, stored, computed, nil
}

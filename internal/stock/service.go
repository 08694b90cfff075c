package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cableworks-erp/cableworks-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// TxRepository exposes the locked mutations available inside a unit of work.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	UpdateQuantity(ctx context.Context, id int64, qty decimal.Decimal) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const quantityCacheTTL = 30 * time.Second

// Service tracks on-hand quantities. Mutations run under a per-item row lock
// so concurrent postings against the same item serialize.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *redis.Client
}

// NewService builds Service. The redis client is optional; without it every
// read goes to the repository.
func NewService(repo RepositoryPort, audit AuditPort, cache *redis.Client) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// MovementInput describes a standalone stock mutation.
type MovementInput struct {
	ItemID    int64
	Quantity  decimal.Decimal
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
}

// CurrentQuantity returns the on-hand quantity for one item, cache-aside.
func (s *Service) CurrentQuantity(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	if itemID == 0 {
		return decimal.Zero, ErrItemNotFound
	}
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, quantityKey(itemID)).Result(); err == nil {
			if qty, err := decimal.NewFromString(cached); err == nil {
				return qty, nil
			}
		}
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, quantityKey(itemID), item.QuantityOnHand.String(), quantityCacheTTL).Err()
	}
	return item.QuantityOnHand, nil
}

// GetItem returns the full item record.
func (s *Service) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return s.repo.GetItem(ctx, itemID)
}

// ListMovements lists the audit trail for an item.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID == 0 {
		return nil, ErrItemNotFound
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListMovements(ctx, filter)
}

// ApplyPurchase adds received quantity.
func (s *Service) ApplyPurchase(ctx context.Context, input MovementInput) (Movement, error) {
	return s.apply(ctx, MovementPurchase, input)
}

// ApplyUse subtracts consumed quantity. Fails with ErrInsufficientStock when
// the request exceeds the on-hand quantity.
func (s *Service) ApplyUse(ctx context.Context, input MovementInput) (Movement, error) {
	return s.apply(ctx, MovementUse, input)
}

// ApplyPurchaseReturn subtracts quantity going back to the supplier, bounded
// by the on-hand quantity.
func (s *Service) ApplyPurchaseReturn(ctx context.Context, input MovementInput) (Movement, error) {
	return s.apply(ctx, MovementPurchaseReturn, input)
}

func (s *Service) apply(ctx context.Context, kind MovementKind, input MovementInput) (Movement, error) {
	if input.ItemID == 0 {
		return Movement{}, ErrItemNotFound
	}
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := ApplyTx(ctx, tx, kind, input.ItemID, input.Quantity, input.RefModule, input.RefID, input.Note)
		if err != nil {
			return err
		}
		movement = m
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.Invalidate(ctx, input.ItemID)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("stock:%s", kind),
			Entity:   "stock_item",
			EntityID: fmt.Sprintf("%d", input.ItemID),
			Meta: map[string]any{
				"qty":  input.Quantity.String(),
				"note": input.Note,
			},
		})
	}
	return movement, nil
}

// ApplyTx performs one locked quantity change inside an existing unit of
// work. Invoice posting calls this so the stock adjustment commits or rolls
// back with the invoice lines.
func ApplyTx(ctx context.Context, tx TxRepository, kind MovementKind, itemID int64, qty decimal.Decimal, refModule, refID, note string) (Movement, error) {
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return Movement{}, err
	}
	next, err := NextQuantity(item.QuantityOnHand, kind, qty)
	if err != nil {
		return Movement{}, err
	}
	if err := tx.UpdateQuantity(ctx, itemID, next); err != nil {
		return Movement{}, err
	}
	movement := Movement{
		ItemID:       itemID,
		Kind:         kind,
		Quantity:     qty,
		BalanceAfter: next,
		RefModule:    refModule,
		RefID:        refID,
		Note:         note,
		PostedAt:     time.Now().UTC(),
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	return movement, nil
}

// Invalidate drops the cached quantity after an external mutation.
func (s *Service) Invalidate(ctx context.Context, itemID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, quantityKey(itemID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return
	}
}

func quantityKey(itemID int64) string {
	return fmt.Sprintf("stock:qty:%d", itemID)
}

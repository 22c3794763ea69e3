package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

// ServiceParams wires the inventory service.
type ServiceParams struct {
	Repository catalog.Repository
	Logger     *logger.Logger
}

// Service reserves and releases stock against inventory batches.
type Service struct {
	repo catalog.Repository
	logg *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: params.Repository, logg: params.Logger}, nil
}

// Quote returns availability and the current FIFO price of a product.
func (s *Service) Quote(ctx context.Context, productID uuid.UUID) (*Quote, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return QuoteBatches(batches, product.BasePrice)
}

// Reserve locks the product's batches inside tx, allocates qty units and
// persists the decremented quantities. A line is sold at one price, so a
// request that would reach a differently priced batch is rejected.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int, enforcePerOrderLimit bool) (*Allocation, error) {
	repo := s.repo.WithTx(tx)
	product, err := repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not active").
			WithDetails(map[string]any{"product_id": productID})
	}

	batches, err := repo.LockBatches(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}

	if enforcePerOrderLimit {
		quote, err := QuoteBatches(batches, product.BasePrice)
		if err != nil {
			return nil, err
		}
		if qty > quote.MaxQuantityPerOrder {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds per order limit").
				WithDetails(map[string]any{"requested": qty, "max": quote.MaxQuantityPerOrder})
		}
	}

	alloc, err := Allocate(batches, qty, product.BasePrice)
	if err != nil {
		return nil, err
	}
	if priced := alloc.PricedQuantity(); priced < qty {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "line spans batches with different prices").
			WithDetails(map[string]any{"requested": qty, "available": priced, "unit_price": alloc.UnitPrice})
	}
	alloc.ProductName = product.Name
	for batchID, remaining := range alloc.Remaining {
		if err := repo.UpdateBatchRemaining(ctx, batchID, remaining); err != nil {
			return nil, fmt.Errorf("update batch %s: %w", batchID, err)
		}
	}
	return alloc, nil
}

// Release returns allocated units to their batches inside tx. A batch never
// ends up holding more than it received.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, allocations types.BatchAllocations) error {
	if len(allocations) == 0 {
		return nil
	}
	repo := s.repo.WithTx(tx)

	ids := make([]uuid.UUID, 0, len(allocations))
	returned := map[uuid.UUID]int{}
	for _, alloc := range allocations {
		if _, ok := returned[alloc.BatchID]; !ok {
			ids = append(ids, alloc.BatchID)
		}
		returned[alloc.BatchID] += alloc.Quantity
	}

	batches, err := repo.LockBatchesByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("lock batches: %w", err)
	}
	for _, batch := range batches {
		remaining := batch.QuantityRemaining + returned[batch.ID]
		if remaining > batch.QuantityReceived {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"batch_id":  batch.ID.String(),
				"received":  batch.QuantityReceived,
				"requested": remaining,
			})
			s.logg.Warn(logCtx, "released quantity capped at received quantity")
			remaining = batch.QuantityReceived
		}
		if err := repo.UpdateBatchRemaining(ctx, batch.ID, remaining); err != nil {
			return fmt.Errorf("update batch %s: %w", batch.ID, err)
		}
	}
	if len(batches) != len(ids) {
		s.logg.Warn(s.logg.WithField(ctx, "missing", len(ids)-len(batches)), "release skipped unknown batches")
	}
	return nil
}

package sellers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

// Seller is the payee of an order.
type Seller struct {
	SellerID   uuid.UUID
	ShopID     uuid.UUID
	CategoryID *uuid.UUID
}

// Resolver maps products and orders to the seller that gets paid.
type Resolver struct {
	repo catalog.Repository
}

func NewResolver(repo catalog.Repository) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &Resolver{repo: repo}, nil
}

// ResolveProduct follows product -> shop -> owner. A broken link is a data
// integrity error.
func (r *Resolver) ResolveProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*Seller, error) {
	repo := r.repo.WithTx(tx)
	product, err := repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, integrity(err, "product", productID)
	}
	shop := product.Shop
	if shop == nil {
		if shop, err = repo.FindShop(ctx, product.ShopID); err != nil {
			return nil, integrity(err, "shop", product.ShopID)
		}
	}
	owner, err := repo.FindAccount(ctx, shop.OwnerID)
	if err != nil {
		return nil, integrity(err, "seller", shop.OwnerID)
	}
	if owner.Role != enums.AccountRoleSeller {
		return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "shop owner is not a seller").
			WithDetails(map[string]any{"shop_id": shop.ID, "owner_id": owner.ID})
	}
	return &Seller{SellerID: owner.ID, ShopID: shop.ID, CategoryID: product.CategoryID}, nil
}

// ResolveOrder resolves the seller from the first line item and checks that
// every other line belongs to the same shop.
func (r *Resolver) ResolveOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (*Seller, error) {
	if order == nil || len(order.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "order has no line items")
	}
	seller, err := r.ResolveProduct(ctx, tx, order.Items[0].ProductID)
	if err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]bool{order.Items[0].ProductID: true}
	for _, item := range order.Items[1:] {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		other, err := r.ResolveProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if other.ShopID != seller.ShopID {
			return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "order spans multiple shops").
				WithDetails(map[string]any{"order_id": order.ID, "shops": []uuid.UUID{seller.ShopID, other.ShopID}})
		}
	}
	return seller, nil
}

func integrity(err error, entity string, id uuid.UUID) error {
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, fmt.Sprintf("%s link missing", entity)).
			WithDetails(map[string]any{"entity": entity, "id": id})
	}
	return err
}

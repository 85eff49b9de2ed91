package service

import (
	"context"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	Name          string
	CategoryID    uuid.UUID
	OriginalPrice decimal.Decimal
	DiscountPrice *decimal.Decimal
	WeightInGms   decimal.Decimal
	Available     bool
	Quantity      int32
}

type ItemPatch struct {
	Name          *string
	OriginalPrice *decimal.Decimal
	DiscountPrice *decimal.Decimal
	WeightInGms   *decimal.Decimal
	Available     *bool
}

type ItemListFilter struct {
	CategoryID    *uuid.UUID
	Query         string
	OnlyAvailable *bool
	Limit         int
	Offset        int
}

type CatalogService interface {
	CreateCategory(ctx context.Context, name string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)

	CreateItem(ctx context.Context, in ItemInput) (*models.Item, error)
	UpdateItem(ctx context.Context, itemID uuid.UUID, patch ItemPatch) (*models.Item, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
	ListItems(ctx context.Context, f ItemListFilter) ([]models.Item, int64, error)
	// DeleteItem блокируется, пока на товар ссылаются исторические покупки
	DeleteItem(ctx context.Context, itemID uuid.UUID) (bool, error)

	SetStock(ctx context.Context, itemID uuid.UUID, qty int32) (*models.Item, error)
	AdjustStock(ctx context.Context, itemID uuid.UUID, delta int32) (*models.Item, error)
}

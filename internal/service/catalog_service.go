package service

import (
	"context"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/repository"

	"github.com/google/uuid"
)

type catalogService struct {
	repo *repository.Repository
	now  func() time.Time
}

func NewCatalogService(repo *repository.Repository) CatalogService {
	return &catalogService{
		repo: repo,
		now:  time.Now,
	}
}

func (s *catalogService) CreateCategory(ctx context.Context, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if existing, err := s.repo.Categories.GetByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrCategoryExists
	}

	c := &models.Category{Name: name, CreatedAt: s.now()}
	if err := s.repo.Categories.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.repo.Categories.List(ctx)
}

func (s *catalogService) CreateItem(ctx context.Context, in ItemInput) (*models.Item, error) {
	if in.Quantity < 0 {
		return nil, ErrQuantityInvalid
	}

	cat, err := s.repo.Categories.GetByID(ctx, in.CategoryID)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, ErrCategoryNotFound
	}

	if existing, err := s.repo.Items.GetByCategoryAndName(ctx, in.CategoryID, in.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrItemExists
	}

	now := s.now()
	it := &models.Item{
		Name:              strings.TrimSpace(in.Name),
		CategoryID:        in.CategoryID,
		OriginalPrice:     in.OriginalPrice,
		DiscountPrice:     in.DiscountPrice,
		WeightInGms:       in.WeightInGms,
		Available:         in.Available,
		AvailableQuantity: in.Quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Items.Create(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *catalogService) UpdateItem(ctx context.Context, itemID uuid.UUID, patch ItemPatch) (*models.Item, error) {
	it, err := s.repo.Items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrItemNotFound
	}

	fields := map[string]any{}

	if patch.Name != nil {
		fields["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.OriginalPrice != nil {
		fields["original_price"] = *patch.OriginalPrice
	}
	if patch.DiscountPrice != nil {
		fields["discount_price"] = *patch.DiscountPrice
	}
	if patch.WeightInGms != nil {
		fields["weight_in_gms"] = *patch.WeightInGms
	}
	if patch.Available != nil {
		fields["available"] = *patch.Available
	}

	if len(fields) == 0 {
		return it, nil
	}

	fields["updated_at"] = s.now()

	if v, ok := fields["name"]; ok {
		newName := v.(string)
		if existing, err := s.repo.Items.GetByCategoryAndName(ctx, it.CategoryID, newName); err != nil {
			return nil, err
		} else if existing != nil && existing.ID != it.ID {
			return nil, ErrItemExists
		}
	}

	if err := s.repo.Items.UpdateFields(ctx, itemID, fields); err != nil {
		return nil, err
	}

	return s.repo.Items.GetByID(ctx, itemID)
}

func (s *catalogService) GetItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	it, err := s.repo.Items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrItemNotFound
	}
	return it, nil
}

func (s *catalogService) ListItems(ctx context.Context, f ItemListFilter) ([]models.Item, int64, error) {
	return s.repo.Items.List(ctx, repository.ItemListFilter{
		CategoryID:    f.CategoryID,
		Query:         f.Query,
		OnlyAvailable: f.OnlyAvailable,
		Limit:         f.Limit,
		Offset:        f.Offset,
	})
}

func (s *catalogService) DeleteItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	it, err := s.repo.Items.GetByID(ctx, itemID)
	if err != nil {
		return false, err
	}
	if it == nil {
		return false, ErrItemNotFound
	}

	referenced, err := s.repo.PurchasedItems.ExistsByItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if referenced {
		return false, ErrItemReferenced
	}

	return s.repo.Items.Delete(ctx, itemID)
}

func (s *catalogService) SetStock(ctx context.Context, itemID uuid.UUID, qty int32) (*models.Item, error) {
	if qty < 0 {
		return nil, ErrQuantityInvalid
	}
	it, err := s.repo.Items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrItemNotFound
	}

	if err := s.repo.Items.SetAvailableQuantity(ctx, itemID, qty); err != nil {
		return nil, err
	}
	return s.repo.Items.GetByID(ctx, itemID)
}

func (s *catalogService) AdjustStock(ctx context.Context, itemID uuid.UUID, delta int32) (*models.Item, error) {
	it, err := s.repo.Items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrItemNotFound
	}

	ok, err := s.repo.Items.AdjustAvailableQuantity(ctx, itemID, delta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotEnoughQuantities
	}
	return s.repo.Items.GetByID(ctx, itemID)
}

package repository

import (
	"context"
	"errors"
	"strings"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ItemListFilter struct {
	CategoryID    *uuid.UUID
	Query         string // по name
	OnlyAvailable *bool
	Limit         int
	Offset        int
}

type ItemRepo interface {
	Create(ctx context.Context, it *models.Item) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Item, error)
	GetByCategoryAndName(ctx context.Context, categoryID uuid.UUID, name string) (*models.Item, error)
	BatchGetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error)
	List(ctx context.Context, f ItemListFilter) ([]models.Item, int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	SetAvailableQuantity(ctx context.Context, id uuid.UUID, qty int32) error
	AdjustAvailableQuantity(ctx context.Context, id uuid.UUID, delta int32) (bool, error)

	// LockByIDs: SELECT ... FOR UPDATE по возрастанию id (фиксированный порядок
	// взятия блокировок, иначе встречные расчёты могут взаимно заблокироваться).
	LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error)
	// Deduct: атомарно available_quantity -= qty, если хватает
	Deduct(ctx context.Context, id uuid.UUID, qty int32) (bool, error)
}

type itemRepo struct{ db *gorm.DB }

func NewItemRepo(db *gorm.DB) ItemRepo { return &itemRepo{db: db} }

func (r *itemRepo) Create(ctx context.Context, it *models.Item) error {
	return r.db.WithContext(ctx).Create(it).Error
}

func (r *itemRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Updates(fields).Error
}

func (r *itemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var it models.Item
	err := r.db.WithContext(ctx).First(&it, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &it, err
}

func (r *itemRepo) GetByCategoryAndName(ctx context.Context, categoryID uuid.UUID, name string) (*models.Item, error) {
	var it models.Item
	err := r.db.WithContext(ctx).
		Where("category_id = ? AND lower(name) = lower(?)", categoryID, name).
		First(&it).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &it, err
}

func (r *itemRepo) BatchGetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []models.Item
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error
	return list, err
}

func (r *itemRepo) List(ctx context.Context, f ItemListFilter) ([]models.Item, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Item{})

	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.OnlyAvailable != nil {
		q = q.Where("available = ?", *f.OnlyAvailable)
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		q = q.Where("lower(name) LIKE lower(?)", "%"+s+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var list []models.Item
	err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&list).Error
	return list, total, err
}

func (r *itemRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).Delete(&models.Item{}, "id = ?", id)
	return tx.RowsAffected > 0, tx.Error
}

func (r *itemRepo) SetAvailableQuantity(ctx context.Context, id uuid.UUID, qty int32) error {
	return r.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).
		Update("available_quantity", qty).Error
}

func (r *itemRepo) AdjustAvailableQuantity(ctx context.Context, id uuid.UUID, delta int32) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE items
SET available_quantity = available_quantity + @delta,
    updated_at = now()
WHERE id = @id
  AND available_quantity + @delta >= 0
`, map[string]any{
		"id":    id,
		"delta": delta,
	})
	return tx.RowsAffected > 0, tx.Error
}

func (r *itemRepo) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []models.Item
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *itemRepo) Deduct(ctx context.Context, id uuid.UUID, qty int32) (bool, error) {
	// атомарно: available_quantity -= qty, если хватает
	tx := r.db.WithContext(ctx).Exec(`
UPDATE items
SET available_quantity = available_quantity - @q,
    updated_at = now()
WHERE id = @id
  AND available_quantity >= @q
`, map[string]any{
		"id": id,
		"q":  qty,
	})
	return tx.RowsAffected > 0, tx.Error
}

package repository

import (
	"context"
	"errors"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PurchasedItemRepo interface {
	BulkCreate(ctx context.Context, items []models.PurchasedItem) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PurchasedItem, error)
	ExistsByItem(ctx context.Context, itemID uuid.UUID) (bool, error)
	DeleteByOrderID(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type purchasedItemRepo struct{ db *gorm.DB }

func NewPurchasedItemRepo(db *gorm.DB) PurchasedItemRepo { return &purchasedItemRepo{db: db} }

func (r *purchasedItemRepo) BulkCreate(ctx context.Context, items []models.PurchasedItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *purchasedItemRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PurchasedItem, error) {
	var rows []models.PurchasedItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return rows, err
}

func (r *purchasedItemRepo) ExistsByItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&models.PurchasedItem{}).Where("item_id = ?", itemID).Count(&cnt).Error
	return cnt > 0, err
}

func (r *purchasedItemRepo) DeleteByOrderID(ctx context.Context, orderID uuid.UUID) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.PurchasedItem{})
	return tx.RowsAffected, tx.Error
}

package repository

import "gorm.io/gorm"

type Repository struct {
	DB             *gorm.DB
	Categories     CategoryRepo
	Items          ItemRepo
	Orders         OrderRepo
	PurchasedItems PurchasedItemRepo
}

func buildRepository(db *gorm.DB) *Repository {
	return &Repository{
		DB:             db,
		Categories:     NewCategoryRepo(db),
		Items:          NewItemRepo(db),
		Orders:         NewOrderRepo(db),
		PurchasedItems: NewPurchasedItemRepo(db),
	}
}

func New(db *gorm.DB) *Repository { return buildRepository(db) }

// Глобальная транзакция на весь набор репо
func (r *Repository) WithTx(fn func(tx *Repository) error) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		return fn(buildRepository(tx))
	})
}

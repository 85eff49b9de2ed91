package migrate

import (
	"context"

	"checkout-service/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	CreateExtensions       bool // pgcrypto
	CreateChecks           bool // CHECK-constraint для целостности
	CreateIndexes          bool // индексы и UNIQUE
	CreateFKsViaSQL        bool // FK через SQL (поверх GORM-constraint)
	CreateUpdatedAtTrigger bool // триггер обновления updated_at
}

func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		CreateExtensions:       true,
		CreateChecks:           true,
		CreateIndexes:          true,
		CreateFKsViaSQL:        true,
		CreateUpdatedAtTrigger: true,
	}
}

func MigrateCheckoutDB(ctx context.Context, db *gorm.DB, log *zap.Logger, opt MigrateOptions) error {
	log.Info("Начало миграции базы данных магазина")

	if opt.CreateExtensions {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
			log.Error("Не удалось включить расширение pgcrypto", zap.Error(err))
			return err
		}
	}

	log.Info("Создание таблиц categories, items, orders, purchased_items")
	if err := db.AutoMigrate(
		&models.Category{},
		&models.Item{},
		&models.Order{},
		&models.PurchasedItem{},
	); err != nil {
		log.Error("Не удалось создать таблицы", zap.Error(err))
		return err
	}

	if opt.CreateUpdatedAtTrigger {
		if err := db.Exec(`
CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_orders_updated ON orders;
CREATE TRIGGER trg_orders_updated
BEFORE UPDATE ON orders
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_items_updated ON items;
CREATE TRIGGER trg_items_updated
BEFORE UPDATE ON items
FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`).Error; err != nil {
			log.Error("Не удалось создать триггер updated_at", zap.Error(err))
			return err
		}
	}

	if opt.CreateChecks {
		log.Info("Создание CHECK-ограничений")

		// Статусы (так как храним TEXT)
		if err := db.Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_order_status_allowed;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_order_status_allowed
  CHECK (order_status IN ('TRAN','COMP','CANC'));

ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_payment_status_allowed;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_payment_status_allowed
  CHECK (payment_status IN ('INIT','SUCC','CANC','FAIL'));

ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_delivery_option_allowed;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_delivery_option_allowed
  CHECK (delivery_option IN ('TKW','HMD'));

ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_payment_method_allowed;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_payment_method_allowed
  CHECK (payment_method IN ('NETB','COD','CCARD','DCARD'));
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для статусов", zap.Error(err))
			return err
		}

		// Запас не может уйти в минус ни при каком списании
		if err := db.Exec(`
ALTER TABLE items
  DROP CONSTRAINT IF EXISTS chk_items_available_quantity_non_negative;
ALTER TABLE items
  ADD CONSTRAINT chk_items_available_quantity_non_negative
  CHECK (available_quantity >= 0);

ALTER TABLE items
  DROP CONSTRAINT IF EXISTS chk_items_prices_non_negative;
ALTER TABLE items
  ADD CONSTRAINT chk_items_prices_non_negative
  CHECK (original_price >= 0 AND (discount_price IS NULL OR discount_price >= 0));
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для items", zap.Error(err))
			return err
		}

		if err := db.Exec(`
ALTER TABLE purchased_items
  DROP CONSTRAINT IF EXISTS chk_purchased_items_quantity_gt_zero;
ALTER TABLE purchased_items
  ADD CONSTRAINT chk_purchased_items_quantity_gt_zero
  CHECK (purchased_quantity > 0);

ALTER TABLE purchased_items
  DROP CONSTRAINT IF EXISTS chk_purchased_items_prices_non_negative;
ALTER TABLE purchased_items
  ADD CONSTRAINT chk_purchased_items_prices_non_negative
  CHECK (purchased_price >= 0 AND savings >= 0);
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для purchased_items", zap.Error(err))
			return err
		}
	}

	if opt.CreateIndexes {
		log.Info("Создание индексов")

		// Одна строка на пару (item, order) — на случай если тегами не создался
		if err := db.Exec(`
CREATE UNIQUE INDEX IF NOT EXISTS ux_purchased_items_order_item
ON purchased_items (order_id, item_id);
`).Error; err != nil {
			log.Error("Не удалось создать уникальный индекс ux_purchased_items_order_item", zap.Error(err))
			return err
		}

		if err := db.Exec(`
CREATE INDEX IF NOT EXISTS ix_orders_payment_status_created
ON orders (payment_status, created_at DESC);
`).Error; err != nil {
			log.Error("Не удалось создать индекс ix_orders_payment_status_created", zap.Error(err))
			return err
		}
	}

	if opt.CreateFKsViaSQL {
		log.Info("Создание внешних ключей")

		// RESTRICT, не CASCADE: заказ и товар нельзя удалить, пока на них
		// ссылаются строки покупок (аудиторский след)
		if err := db.Exec(`
ALTER TABLE purchased_items
  DROP CONSTRAINT IF EXISTS fk_purchased_items_order,
  ADD CONSTRAINT fk_purchased_items_order
    FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE RESTRICT;

ALTER TABLE purchased_items
  DROP CONSTRAINT IF EXISTS fk_purchased_items_item,
  ADD CONSTRAINT fk_purchased_items_item
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE RESTRICT;

ALTER TABLE items
  DROP CONSTRAINT IF EXISTS fk_items_category,
  ADD CONSTRAINT fk_items_category
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE RESTRICT;
`).Error; err != nil {
			log.Error("Не удалось создать внешние ключи", zap.Error(err))
			return err
		}
	}

	log.Info("Миграция базы данных магазина успешно завершена")
	return nil
}

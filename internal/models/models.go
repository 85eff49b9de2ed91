package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusInTransit OrderStatus = "TRAN"
	OrderStatusCompleted OrderStatus = "COMP"
	OrderStatusCancelled OrderStatus = "CANC"
)

type PaymentStatus string

const (
	PaymentStatusInitialized PaymentStatus = "INIT"
	PaymentStatusSuccessful  PaymentStatus = "SUCC"
	PaymentStatusCancelled   PaymentStatus = "CANC"
	PaymentStatusFailed      PaymentStatus = "FAIL"
)

type PaymentMethod string

const (
	PaymentNetBanking     PaymentMethod = "NETB"
	PaymentCashOnDelivery PaymentMethod = "COD"
	PaymentCreditCard     PaymentMethod = "CCARD"
	PaymentDebitCard      PaymentMethod = "DCARD"
)

type DeliveryOption string

const (
	DeliveryTakeaway     DeliveryOption = "TKW"
	DeliveryHomeDelivery DeliveryOption = "HMD"
)

// PaymentErrorNone — значение payment_error_code, пока ошибок не было.
const PaymentErrorNone = "NO ERROR"

type Category struct {
	ID   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name string    `gorm:"type:text;not null;uniqueIndex"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (Category) TableName() string { return "categories" }

type Item struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name       string    `gorm:"type:text;not null;uniqueIndex:ux_items_category_name"`
	CategoryID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_items_category_name"`

	OriginalPrice decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	DiscountPrice *decimal.Decimal `gorm:"type:decimal(12,2)"`
	WeightInGms   decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0"`
	Available     bool             `gorm:"not null;default:true"`
	// меняется только внутри транзакции списания (CHECK >= 0 в миграции)
	AvailableQuantity int32 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Item) TableName() string { return "items" }

type Order struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	// Публичный идентификатор (ULID) — присваивается один раз до записи позиций,
	// на него ссылается внешний платёжный шлюз.
	OrderID string `gorm:"type:text;not null;uniqueIndex"`

	RemoteOrderID   string `gorm:"type:text;not null;default:''"`
	RemotePaymentID string `gorm:"type:text;not null;default:''"`
	RemoteSignature string `gorm:"type:text;not null;default:''"`

	OrderStatus      OrderStatus   `gorm:"type:text;not null;default:'TRAN';index"`
	PaymentStatus    PaymentStatus `gorm:"type:text;not null;default:'INIT';index"`
	PaymentErrorCode string        `gorm:"type:text;not null;default:'NO ERROR'"`

	BillingDateTime time.Time `gorm:"not null;default:now()"`

	CustomerName     string         `gorm:"type:text;not null"`
	CustomerMobileNo string         `gorm:"type:text;not null"`
	PaymentMethod    PaymentMethod  `gorm:"type:text;not null"`
	DeliveryOption   DeliveryOption `gorm:"type:text;not null"`
	DistanceFromShop int            `gorm:"not null;default:0"`
	ShippingAddress  string         `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`

	// RESTRICT, а не CASCADE: оплаченные заказы — аудиторский след
	Items []PurchasedItem `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

// PurchasedItem — неизменяемый снимок строки корзины на момент создания заказа.
// Цена и скидка фиксируются здесь и не зависят от будущих изменений Item.
type PurchasedItem struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_purchased_items_order_item"`
	ItemID  uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_purchased_items_order_item"`

	PurchasedPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Savings           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	PurchasedQuantity int32           `gorm:"not null"` // CHECK > 0 в миграции

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (PurchasedItem) TableName() string { return "purchased_items" }

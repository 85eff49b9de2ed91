package service

import (
	"context"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine — строка клиентской корзины: стабильный id товара и запрошенное количество.
type CartLine struct {
	ItemID   uuid.UUID
	Quantity int32
}

type CheckoutInput struct {
	Cart []CartLine

	CustomerName     string
	CustomerMobileNo string
	PaymentMethod    models.PaymentMethod
	DeliveryOption   models.DeliveryOption
	DistanceFromShop int
	ShippingAddress  string
}

type ListFilter struct {
	OrderStatus   *models.OrderStatus
	PaymentStatus *models.PaymentStatus
	Limit         int
	Offset        int
}

// OrderTotals — выводимые суммы заказа; не хранятся, всегда считаются по строкам.
type OrderTotals struct {
	ItemPrice decimal.Decimal
	Savings   decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Payable   decimal.Decimal
}

type CheckoutService interface {
	// Checkout превращает корзину в заказ: снимки цен, позиции,
	// регистрация заказа у платёжного шлюза. Всё или ничего.
	Checkout(ctx context.Context, in CheckoutInput) (*models.Order, error)

	// Settle — колбэк завершения оплаты: проверка подписи, повторная проверка
	// остатков под блокировкой, подтверждение списания, вычет остатков.
	// false без ошибки — расчёт отклонён (детали в payment_error_code заказа).
	Settle(ctx context.Context, orderID string, remotePaymentID, remoteSignature string) (bool, error)

	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetTotals(ctx context.Context, orderID string) (*OrderTotals, error)
	ListOrders(ctx context.Context, f ListFilter) ([]models.Order, int64, error)
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)
	MarkCompleted(ctx context.Context, orderID string) (*models.Order, error)
}

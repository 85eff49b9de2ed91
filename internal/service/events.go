package service

import (
	"context"
	"time"
)

type OrderCreatedEvent struct {
	OrderID       string    `json:"order_id"`
	RemoteOrderID string    `json:"remote_order_id"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}

type PaymentSettledEvent struct {
	OrderID         string    `json:"order_id"`
	RemotePaymentID string    `json:"remote_payment_id"`
	Success         bool      `json:"success"`
	ErrorCode       string    `json:"error_code,omitempty"`
	SettledAt       time.Time `json:"settled_at"`
}

type OrderCancelledEvent struct {
	OrderID     string    `json:"order_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type EventBus interface {
	PublishOrderCreated(ctx context.Context, e OrderCreatedEvent) error
	PublishPaymentSettled(ctx context.Context, e PaymentSettledEvent) error
	PublishOrderCancelled(ctx context.Context, e OrderCancelledEvent) error
}

package service

import (
	"context"
)

// PaymentGateway — внешний платёжный провайдер. Все три вызова — сетевые,
// могут падать транзиентно; вызывающий обязан ограничивать их таймаутом.
type PaymentGateway interface {
	// CreateRemoteOrder регистрирует заказ у провайдера и возвращает его id.
	// amountMinor — сумма в минорных единицах (пайсы/копейки), receiptID — наш OrderID.
	CreateRemoteOrder(ctx context.Context, amountMinor int64, currency, receiptID string, notes map[string]string) (string, error)

	// VerifySignature проверяет криптографическую подпись колбэка оплаты.
	// Несовпадение — gateway.ErrSignatureMismatch.
	VerifySignature(remoteOrderID, remotePaymentID, remoteSignature string) error

	// CapturePayment подтверждает списание. Отказ провайдера — gateway.ErrCaptureDeclined.
	CapturePayment(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error
}

package service

import "errors"

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrCategoryNotFound = errors.New("category not found")

	ErrEmptyCart        = errors.New("cart is empty")
	ErrQuantityInvalid  = errors.New("quantity must be > 0")
	ErrDuplicateCartRow = errors.New("duplicate item in cart")
	ErrItemUnavailable  = errors.New("item is not available for sale")

	ErrUndeliverableAddress = errors.New("undeliverable shipping address")
	ErrNotEnoughQuantities  = errors.New("not enough quantities available")
	ErrSignatureMismatch    = errors.New("payment signature verification failed")
	ErrCaptureFailed        = errors.New("payment capture failed")

	ErrAlreadySettled       = errors.New("payment already settled for this order")
	ErrAlreadyCancelled     = errors.New("order already cancelled")
	ErrPaymentNotSuccessful = errors.New("payment is not successful")

	ErrCategoryExists = errors.New("category already exists")
	ErrItemExists     = errors.New("item already exists in category")
	ErrItemReferenced = errors.New("item is referenced by purchased orders")
)

// Диагностические коды payment_error_code, видимые в заказе после неудачного расчёта.
const (
	ErrCodeSignatureVerification = "SignatureVerificationError"
	ErrCodeNotEnoughQuantities   = "NotEnoughQuantitiesAvailable"
	ErrCodePaymentCapture        = "PaymentCaptureFailure"
)

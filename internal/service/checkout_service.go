package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/repository"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const gatewayTimeout = 10 * time.Second

type checkoutService struct {
	repo     *repository.Repository
	gateway  PaymentGateway
	pricing  Pricing
	events   EventBus
	currency string
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewCheckoutService(repo *repository.Repository, gateway PaymentGateway, pricing Pricing, events EventBus, currency string, log *zap.Logger) CheckoutService {
	if currency == "" {
		currency = "INR"
	}
	return &checkoutService{
		repo:     repo,
		gateway:  gateway,
		pricing:  pricing,
		events:   events,
		currency: currency,
		log:      log,
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
}

func validateCart(cart []CartLine) error {
	if len(cart) == 0 {
		return ErrEmptyCart
	}
	seen := make(map[uuid.UUID]struct{}, len(cart))
	for _, line := range cart {
		if line.Quantity <= 0 {
			return ErrQuantityInvalid
		}
		if _, dup := seen[line.ItemID]; dup {
			return ErrDuplicateCartRow
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (s *checkoutService) Checkout(ctx context.Context, in CheckoutInput) (*models.Order, error) {
	if err := validateCart(in.Cart); err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		OrderID:          s.newID(),
		OrderStatus:      models.OrderStatusInTransit,
		PaymentStatus:    models.PaymentStatusInitialized,
		PaymentErrorCode: models.PaymentErrorNone,
		BillingDateTime:  now,
		CustomerName:     in.CustomerName,
		CustomerMobileNo: in.CustomerMobileNo,
		PaymentMethod:    in.PaymentMethod,
		DeliveryOption:   in.DeliveryOption,
		DistanceFromShop: in.DistanceFromShop,
		ShippingAddress:  in.ShippingAddress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Недоставляемый адрес отсекаем до любой записи в БД.
	if _, err := s.pricing.TotalShipping(order); err != nil {
		return nil, err
	}

	// Родительская строка создаётся первой: позициям и шлюзу нужен
	// стабильный order id ещё до финального сохранения заказа.
	if err := s.repo.Orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	err := s.repo.Orders.WithTx(ctx, func(txOrders repository.OrderRepo, txItems repository.ItemRepo, txLines repository.PurchasedItemRepo) error {
		ids := make([]uuid.UUID, 0, len(in.Cart))
		for _, line := range in.Cart {
			ids = append(ids, line.ItemID)
		}
		items, err := txItems.BatchGetByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*models.Item, len(items))
		for i := range items {
			byID[items[i].ID] = &items[i]
		}

		lines := make([]models.PurchasedItem, 0, len(in.Cart))
		for _, cartLine := range in.Cart {
			it, ok := byID[cartLine.ItemID]
			if !ok {
				return ErrItemNotFound
			}
			if !it.Available {
				return ErrItemUnavailable
			}
			// Предварительная (совещательная) проверка остатков: без блокировки,
			// обязательная проверка будет позже — в транзакции расчёта.
			if it.AvailableQuantity < cartLine.Quantity {
				return ErrNotEnoughQuantities
			}
			lines = append(lines, models.PurchasedItem{
				OrderID:           order.ID,
				ItemID:            it.ID,
				PurchasedPrice:    ActualPrice(it),
				Savings:           ItemSavings(it),
				PurchasedQuantity: cartLine.Quantity,
				CreatedAt:         now,
			})
		}

		return txLines.BulkCreate(ctx, lines)
	})
	if err != nil {
		s.rollbackCheckout(ctx, order.ID)
		return nil, err
	}

	created, err := s.repo.Orders.GetByID(ctx, order.ID)
	if err != nil {
		s.rollbackCheckout(ctx, order.ID)
		return nil, err
	}
	if created == nil {
		s.rollbackCheckout(ctx, order.ID)
		return nil, ErrOrderNotFound
	}
	order = created

	amountMinor, err := s.pricing.AmountPayableMinor(order)
	if err != nil {
		s.rollbackCheckout(ctx, order.ID)
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	remoteOrderID, err := s.gateway.CreateRemoteOrder(gctx, amountMinor, s.currency, order.OrderID, map[string]string{
		"shipping_address": order.ShippingAddress,
	})
	cancel()
	if err != nil {
		s.rollbackCheckout(ctx, order.ID)
		return nil, fmt.Errorf("create remote order: %w", err)
	}

	if err := s.repo.Orders.UpdateRemoteOrderID(ctx, order.ID, remoteOrderID); err != nil {
		s.rollbackCheckout(ctx, order.ID)
		return nil, err
	}
	order.RemoteOrderID = remoteOrderID

	if s.events != nil {
		if err := s.events.PublishOrderCreated(ctx, OrderCreatedEvent{
			OrderID:       order.OrderID,
			RemoteOrderID: remoteOrderID,
			AmountMinor:   amountMinor,
			Currency:      s.currency,
			CreatedAt:     order.CreatedAt,
		}); err != nil {
			s.logPublishError(order.OrderID, err)
		}
	}

	return order, nil
}

// rollbackCheckout — компенсация неудачного создания: сначала позиции, затем
// родительская строка. «Мусорный» заказ не должен пережить ошибку.
func (s *checkoutService) rollbackCheckout(ctx context.Context, orderID uuid.UUID) {
	err := s.repo.Orders.WithTx(ctx, func(txOrders repository.OrderRepo, _ repository.ItemRepo, txLines repository.PurchasedItemRepo) error {
		if _, err := txLines.DeleteByOrderID(ctx, orderID); err != nil {
			return err
		}
		_, err := txOrders.Delete(ctx, orderID)
		return err
	})
	if err != nil && s.log != nil {
		s.log.Error("Не удалось откатить незавершённый заказ", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// Публикация событий не влияет на исход операции: ошибку только логируем.
func (s *checkoutService) logPublishError(orderID string, err error) {
	if s.log != nil {
		s.log.Warn("Не удалось опубликовать событие заказа", zap.String("order_id", orderID), zap.Error(err))
	}
}

// settlementFailure — отклонение расчёта, видимое пользователю; транзакция
// откатывается, но заказ сохраняется со статусом FAIL и кодом диагностики.
type settlementFailure struct {
	code string
	err  error
}

func (f *settlementFailure) Error() string { return f.err.Error() }
func (f *settlementFailure) Unwrap() error { return f.err }

func (s *checkoutService) Settle(ctx context.Context, orderID string, remotePaymentID, remoteSignature string) (bool, error) {
	order, err := s.repo.Orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, ErrOrderNotFound
	}
	if order.PaymentStatus != models.PaymentStatusInitialized {
		return false, ErrAlreadySettled
	}

	// Идентификаторы колбэка фиксируем сразу: они нужны для аудита,
	// даже если дальше всё упадёт.
	if err := s.repo.Orders.UpdatePaymentRefs(ctx, order.ID, remotePaymentID, remoteSignature); err != nil {
		return false, err
	}
	order.RemotePaymentID = remotePaymentID
	order.RemoteSignature = remoteSignature

	txErr := s.repo.Orders.WithTx(ctx, func(txOrders repository.OrderRepo, txItems repository.ItemRepo, txLines repository.PurchasedItemRepo) error {
		// Статус перечитывается под блокировкой строки заказа: проверка до
		// транзакции недостаточна, два параллельных колбэка одного заказа
		// оба видят INIT и оба доходят до списания.
		lockedOrder, err := txOrders.LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if lockedOrder == nil {
			return ErrOrderNotFound
		}
		if lockedOrder.PaymentStatus != models.PaymentStatusInitialized {
			return ErrAlreadySettled
		}

		lines, err := txLines.GetByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ItemID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		// Эксклюзивная блокировка товарных строк заказа: параллельные расчёты,
		// претендующие на один и тот же запас, сериализуются здесь.
		locked, err := txItems.LockByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*models.Item, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}

		if err := s.gateway.VerifySignature(order.RemoteOrderID, remotePaymentID, remoteSignature); err != nil {
			return &settlementFailure{code: ErrCodeSignatureVerification, err: ErrSignatureMismatch}
		}

		// Обязательная проверка под блокировкой: запас могли успеть выкупить
		// между созданием заказа и оплатой.
		for _, line := range lines {
			it, ok := byID[line.ItemID]
			if !ok || it.AvailableQuantity < line.PurchasedQuantity {
				return &settlementFailure{code: ErrCodeNotEnoughQuantities, err: ErrNotEnoughQuantities}
			}
		}

		amountMinor, err := s.pricing.AmountPayableMinor(order)
		if err != nil {
			return err
		}

		gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
		err = s.gateway.CapturePayment(gctx, remotePaymentID, amountMinor, s.currency)
		cancel()
		if err != nil {
			return &settlementFailure{
				code: fmt.Sprintf("%s: %v", ErrCodePaymentCapture, err),
				err:  fmt.Errorf("%w: %v", ErrCaptureFailed, err),
			}
		}

		for _, line := range lines {
			ok, err := txItems.Deduct(ctx, line.ItemID, line.PurchasedQuantity)
			if err != nil {
				return err
			}
			if !ok {
				return &settlementFailure{code: ErrCodeNotEnoughQuantities, err: ErrNotEnoughQuantities}
			}
		}

		return txOrders.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusSuccessful, models.PaymentErrorNone)
	})

	if txErr != nil {
		if fail, ok := txErr.(*settlementFailure); ok {
			// Транзакция уже откатилась; фиксируем исход в самом заказе.
			if err := s.repo.Orders.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusFailed, fail.code); err != nil {
				return false, err
			}
			if s.log != nil {
				s.log.Warn("Расчёт по заказу отклонён",
					zap.String("order_id", order.OrderID),
					zap.String("error_code", fail.code),
				)
			}
			if s.events != nil {
				if err := s.events.PublishPaymentSettled(ctx, PaymentSettledEvent{
					OrderID:         order.OrderID,
					RemotePaymentID: remotePaymentID,
					Success:         false,
					ErrorCode:       fail.code,
					SettledAt:       s.now(),
				}); err != nil {
					s.logPublishError(order.OrderID, err)
				}
			}
			return false, nil
		}
		return false, txErr
	}

	if s.events != nil {
		if err := s.events.PublishPaymentSettled(ctx, PaymentSettledEvent{
			OrderID:         order.OrderID,
			RemotePaymentID: remotePaymentID,
			Success:         true,
			SettledAt:       s.now(),
		}); err != nil {
			s.logPublishError(order.OrderID, err)
		}
	}

	return true, nil
}

func (s *checkoutService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.repo.Orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *checkoutService) GetTotals(ctx context.Context, orderID string) (*OrderTotals, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	shipping, err := s.pricing.TotalShipping(order)
	if err != nil {
		return nil, err
	}
	payable, err := s.pricing.AmountPayable(order)
	if err != nil {
		return nil, err
	}
	return &OrderTotals{
		ItemPrice: s.pricing.TotalItemPrice(order),
		Savings:   s.pricing.TotalSavings(order),
		Tax:       s.pricing.TotalTax(order),
		Shipping:  shipping,
		Payable:   payable,
	}, nil
}

func (s *checkoutService) ListOrders(ctx context.Context, f ListFilter) ([]models.Order, int64, error) {
	listPtr, total, err := s.repo.Orders.List(ctx, repository.OrderListFilter{
		OrderStatus:   f.OrderStatus,
		PaymentStatus: f.PaymentStatus,
		Limit:         f.Limit,
		Offset:        f.Offset,
	})
	if err != nil {
		return nil, 0, err
	}
	list := make([]models.Order, len(listPtr))
	for i, o := range listPtr {
		list[i] = *o
	}
	return list, total, nil
}

func (s *checkoutService) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.OrderStatus {
	case models.OrderStatusCancelled:
		return order, ErrAlreadyCancelled
	case models.OrderStatusCompleted:
		return order, ErrAlreadySettled
	}
	if order.PaymentStatus == models.PaymentStatusSuccessful {
		// оплаченный заказ не отменяем — возвраты вне нашей зоны
		return order, ErrAlreadySettled
	}

	err = s.repo.Orders.WithTx(ctx, func(txOrders repository.OrderRepo, _ repository.ItemRepo, _ repository.PurchasedItemRepo) error {
		if err := txOrders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled); err != nil {
			return err
		}
		if order.PaymentStatus == models.PaymentStatusInitialized {
			return txOrders.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusCancelled, "")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		if err := s.events.PublishOrderCancelled(ctx, OrderCancelledEvent{
			OrderID:     order.OrderID,
			CancelledAt: s.now(),
		}); err != nil {
			s.logPublishError(order.OrderID, err)
		}
	}

	return s.repo.Orders.GetByID(ctx, order.ID)
}

func (s *checkoutService) MarkCompleted(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus == models.OrderStatusCancelled {
		return order, ErrAlreadyCancelled
	}
	if order.PaymentMethod != models.PaymentCashOnDelivery && order.PaymentStatus != models.PaymentStatusSuccessful {
		return order, ErrPaymentNotSuccessful
	}
	if err := s.repo.Orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCompleted); err != nil {
		return nil, err
	}
	return s.repo.Orders.GetByID(ctx, order.ID)
}

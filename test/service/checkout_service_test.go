package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/repository"
	"checkout-service/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Моки для всех зависимостей CheckoutService

// MockOrderRepo
type MockOrderRepo struct {
	CreateFunc              func(ctx context.Context, o *models.Order) error
	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByOrderIDFunc        func(ctx context.Context, orderID string) (*models.Order, error)
	LockByIDFunc            func(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrderStatusFunc   func(ctx context.Context, id uuid.UUID, status models.OrderStatus) error
	UpdatePaymentRefsFunc   func(ctx context.Context, id uuid.UUID, remotePaymentID, remoteSignature string) error
	UpdatePaymentStatusFunc func(ctx context.Context, id uuid.UUID, status models.PaymentStatus, errorCode string) error
	UpdateRemoteOrderIDFunc func(ctx context.Context, id uuid.UUID, remoteOrderID string) error
	ListFunc                func(ctx context.Context, f repository.OrderListFilter) ([]*models.Order, int64, error)
	ExistsFunc              func(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteFunc              func(ctx context.Context, id uuid.UUID) (bool, error)
	WithTxFunc              func(ctx context.Context, fn func(repository.OrderRepo, repository.ItemRepo, repository.PurchasedItemRepo) error) error

	TxItems repository.ItemRepo
	TxLines repository.PurchasedItemRepo
}

func (m *MockOrderRepo) Create(ctx context.Context, o *models.Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	return nil
}

func (m *MockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockOrderRepo) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	if m.GetByOrderIDFunc != nil {
		return m.GetByOrderIDFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *MockOrderRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if m.LockByIDFunc != nil {
		return m.LockByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockOrderRepo) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error {
	if m.UpdateOrderStatusFunc != nil {
		return m.UpdateOrderStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockOrderRepo) UpdatePaymentRefs(ctx context.Context, id uuid.UUID, remotePaymentID, remoteSignature string) error {
	if m.UpdatePaymentRefsFunc != nil {
		return m.UpdatePaymentRefsFunc(ctx, id, remotePaymentID, remoteSignature)
	}
	return nil
}

func (m *MockOrderRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus, errorCode string) error {
	if m.UpdatePaymentStatusFunc != nil {
		return m.UpdatePaymentStatusFunc(ctx, id, status, errorCode)
	}
	return nil
}

func (m *MockOrderRepo) UpdateRemoteOrderID(ctx context.Context, id uuid.UUID, remoteOrderID string) error {
	if m.UpdateRemoteOrderIDFunc != nil {
		return m.UpdateRemoteOrderIDFunc(ctx, id, remoteOrderID)
	}
	return nil
}

func (m *MockOrderRepo) List(ctx context.Context, f repository.OrderListFilter) ([]*models.Order, int64, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	return nil, 0, nil
}

func (m *MockOrderRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, id)
	}
	return false, nil
}

func (m *MockOrderRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return false, nil
}

func (m *MockOrderRepo) WithTx(ctx context.Context, fn func(repository.OrderRepo, repository.ItemRepo, repository.PurchasedItemRepo) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, fn)
	}
	return fn(m, m.TxItems, m.TxLines)
}

// MockItemRepo
type MockItemRepo struct {
	CreateFunc                  func(ctx context.Context, it *models.Item) error
	UpdateFieldsFunc            func(ctx context.Context, id uuid.UUID, fields map[string]any) error
	GetByIDFunc                 func(ctx context.Context, id uuid.UUID) (*models.Item, error)
	GetByCategoryAndNameFunc    func(ctx context.Context, categoryID uuid.UUID, name string) (*models.Item, error)
	BatchGetByIDsFunc           func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error)
	ListFunc                    func(ctx context.Context, f repository.ItemListFilter) ([]models.Item, int64, error)
	DeleteFunc                  func(ctx context.Context, id uuid.UUID) (bool, error)
	SetAvailableQuantityFunc    func(ctx context.Context, id uuid.UUID, qty int32) error
	AdjustAvailableQuantityFunc func(ctx context.Context, id uuid.UUID, delta int32) (bool, error)
	LockByIDsFunc               func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error)
	DeductFunc                  func(ctx context.Context, id uuid.UUID, qty int32) (bool, error)
}

func (m *MockItemRepo) Create(ctx context.Context, it *models.Item) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, it)
	}
	return nil
}

func (m *MockItemRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if m.UpdateFieldsFunc != nil {
		return m.UpdateFieldsFunc(ctx, id, fields)
	}
	return nil
}

func (m *MockItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockItemRepo) GetByCategoryAndName(ctx context.Context, categoryID uuid.UUID, name string) (*models.Item, error) {
	if m.GetByCategoryAndNameFunc != nil {
		return m.GetByCategoryAndNameFunc(ctx, categoryID, name)
	}
	return nil, nil
}

func (m *MockItemRepo) BatchGetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	if m.BatchGetByIDsFunc != nil {
		return m.BatchGetByIDsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *MockItemRepo) List(ctx context.Context, f repository.ItemListFilter) ([]models.Item, int64, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	return nil, 0, nil
}

func (m *MockItemRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return false, nil
}

func (m *MockItemRepo) SetAvailableQuantity(ctx context.Context, id uuid.UUID, qty int32) error {
	if m.SetAvailableQuantityFunc != nil {
		return m.SetAvailableQuantityFunc(ctx, id, qty)
	}
	return nil
}

func (m *MockItemRepo) AdjustAvailableQuantity(ctx context.Context, id uuid.UUID, delta int32) (bool, error) {
	if m.AdjustAvailableQuantityFunc != nil {
		return m.AdjustAvailableQuantityFunc(ctx, id, delta)
	}
	return false, nil
}

func (m *MockItemRepo) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	if m.LockByIDsFunc != nil {
		return m.LockByIDsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *MockItemRepo) Deduct(ctx context.Context, id uuid.UUID, qty int32) (bool, error) {
	if m.DeductFunc != nil {
		return m.DeductFunc(ctx, id, qty)
	}
	return false, nil
}

// MockPurchasedItemRepo
type MockPurchasedItemRepo struct {
	BulkCreateFunc      func(ctx context.Context, items []models.PurchasedItem) error
	GetByOrderIDFunc    func(ctx context.Context, orderID uuid.UUID) ([]models.PurchasedItem, error)
	ExistsByItemFunc    func(ctx context.Context, itemID uuid.UUID) (bool, error)
	DeleteByOrderIDFunc func(ctx context.Context, orderID uuid.UUID) (int64, error)
}

func (m *MockPurchasedItemRepo) BulkCreate(ctx context.Context, items []models.PurchasedItem) error {
	if m.BulkCreateFunc != nil {
		return m.BulkCreateFunc(ctx, items)
	}
	return nil
}

func (m *MockPurchasedItemRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PurchasedItem, error) {
	if m.GetByOrderIDFunc != nil {
		return m.GetByOrderIDFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *MockPurchasedItemRepo) ExistsByItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	if m.ExistsByItemFunc != nil {
		return m.ExistsByItemFunc(ctx, itemID)
	}
	return false, nil
}

func (m *MockPurchasedItemRepo) DeleteByOrderID(ctx context.Context, orderID uuid.UUID) (int64, error) {
	if m.DeleteByOrderIDFunc != nil {
		return m.DeleteByOrderIDFunc(ctx, orderID)
	}
	return 0, nil
}

// MockGateway
type MockGateway struct {
	CreateRemoteOrderFunc func(ctx context.Context, amountMinor int64, currency, receiptID string, notes map[string]string) (string, error)
	VerifySignatureFunc   func(remoteOrderID, remotePaymentID, remoteSignature string) error
	CapturePaymentFunc    func(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error
}

func (m *MockGateway) CreateRemoteOrder(ctx context.Context, amountMinor int64, currency, receiptID string, notes map[string]string) (string, error) {
	if m.CreateRemoteOrderFunc != nil {
		return m.CreateRemoteOrderFunc(ctx, amountMinor, currency, receiptID, notes)
	}
	return "rord_test", nil
}

func (m *MockGateway) VerifySignature(remoteOrderID, remotePaymentID, remoteSignature string) error {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(remoteOrderID, remotePaymentID, remoteSignature)
	}
	return nil
}

func (m *MockGateway) CapturePayment(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error {
	if m.CapturePaymentFunc != nil {
		return m.CapturePaymentFunc(ctx, remotePaymentID, amountMinor, currency)
	}
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newRepo(orders *MockOrderRepo, items *MockItemRepo, lines *MockPurchasedItemRepo) *repository.Repository {
	orders.TxItems = items
	orders.TxLines = lines
	return &repository.Repository{
		Orders:         orders,
		Items:          items,
		PurchasedItems: lines,
	}
}

func TestCheckout_SnapshotsPricesAndStoresRemoteOrder(t *testing.T) {
	ctx := context.Background()

	discount := d("80")
	itemID := uuid.New()
	catalogItem := models.Item{
		ID:                itemID,
		Name:              "soap",
		OriginalPrice:     d("100"),
		DiscountPrice:     &discount,
		Available:         true,
		AvailableQuantity: 10,
	}

	var createdOrder *models.Order
	var createdLines []models.PurchasedItem
	var remoteOrderID string

	orders := &MockOrderRepo{
		CreateFunc: func(ctx context.Context, o *models.Order) error {
			o.ID = uuid.New()
			createdOrder = o
			return nil
		},
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			cp := *createdOrder
			cp.Items = createdLines
			return &cp, nil
		},
		UpdateRemoteOrderIDFunc: func(ctx context.Context, id uuid.UUID, rid string) error {
			remoteOrderID = rid
			return nil
		},
	}
	items := &MockItemRepo{
		BatchGetByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
			return []models.Item{catalogItem}, nil
		},
	}
	lines := &MockPurchasedItemRepo{
		BulkCreateFunc: func(ctx context.Context, ls []models.PurchasedItem) error {
			createdLines = ls
			return nil
		},
	}

	var gotAmount int64
	gw := &MockGateway{
		CreateRemoteOrderFunc: func(ctx context.Context, amountMinor int64, currency, receiptID string, notes map[string]string) (string, error) {
			gotAmount = amountMinor
			return "rord_123", nil
		},
	}

	svc := service.NewCheckoutService(newRepo(orders, items, lines), gw, service.NewPricing(nil), nil, "INR", zap.NewNop())

	order, err := svc.Checkout(ctx, service.CheckoutInput{
		Cart:           []service.CartLine{{ItemID: itemID, Quantity: 3}},
		CustomerName:   "Ann",
		PaymentMethod:  models.PaymentNetBanking,
		DeliveryOption: models.DeliveryTakeaway,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.OrderID == "" {
		t.Fatal("order id must be assigned before persistence")
	}
	if len(createdLines) != 1 {
		t.Fatalf("expected 1 purchased line, got %d", len(createdLines))
	}
	line := createdLines[0]
	if !line.PurchasedPrice.Equal(d("80")) || !line.Savings.Equal(d("20")) || line.PurchasedQuantity != 3 {
		t.Fatalf("snapshot mismatch: %+v", line)
	}
	// 240 + 14.40 налога, самовывоз -> 25440 в минорных единицах
	if gotAmount != 25440 {
		t.Fatalf("gateway amount expected 25440, got %d", gotAmount)
	}
	if remoteOrderID != "rord_123" || order.RemoteOrderID != "rord_123" {
		t.Fatalf("remote order id not stored: %q / %q", remoteOrderID, order.RemoteOrderID)
	}
}

func TestCheckout_UndeliverableAddressFailsBeforePersistence(t *testing.T) {
	ctx := context.Background()

	created := false
	orders := &MockOrderRepo{
		CreateFunc: func(ctx context.Context, o *models.Order) error {
			created = true
			return nil
		},
	}
	svc := service.NewCheckoutService(newRepo(orders, &MockItemRepo{}, &MockPurchasedItemRepo{}), &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())

	_, err := svc.Checkout(ctx, service.CheckoutInput{
		Cart:             []service.CartLine{{ItemID: uuid.New(), Quantity: 1}},
		DeliveryOption:   models.DeliveryHomeDelivery,
		DistanceFromShop: 999,
	})
	if !errors.Is(err, service.ErrUndeliverableAddress) {
		t.Fatalf("expected ErrUndeliverableAddress, got %v", err)
	}
	if created {
		t.Fatal("no order row may be written for an undeliverable address")
	}
}

func TestCheckout_InsufficientStockRollsBackOrder(t *testing.T) {
	ctx := context.Background()

	itemID := uuid.New()
	orderUUID := uuid.New()
	var deletedLines, deletedOrder bool

	orders := &MockOrderRepo{
		CreateFunc: func(ctx context.Context, o *models.Order) error {
			o.ID = orderUUID
			return nil
		},
		DeleteFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
			if id != orderUUID {
				t.Fatalf("delete of wrong order: %s", id)
			}
			deletedOrder = true
			return true, nil
		},
	}
	items := &MockItemRepo{
		BatchGetByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
			return []models.Item{{ID: itemID, OriginalPrice: d("10"), Available: true, AvailableQuantity: 1}}, nil
		},
	}
	lines := &MockPurchasedItemRepo{
		DeleteByOrderIDFunc: func(ctx context.Context, orderID uuid.UUID) (int64, error) {
			deletedLines = true
			return 0, nil
		},
	}

	svc := service.NewCheckoutService(newRepo(orders, items, lines), &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())

	_, err := svc.Checkout(ctx, service.CheckoutInput{
		Cart:           []service.CartLine{{ItemID: itemID, Quantity: 5}},
		DeliveryOption: models.DeliveryTakeaway,
	})
	if !errors.Is(err, service.ErrNotEnoughQuantities) {
		t.Fatalf("expected ErrNotEnoughQuantities, got %v", err)
	}
	if !deletedLines || !deletedOrder {
		t.Fatalf("partial order must be compensated: lines=%v order=%v", deletedLines, deletedOrder)
	}
}

func TestCheckout_GatewayFailureRollsBackOrder(t *testing.T) {
	ctx := context.Background()

	itemID := uuid.New()
	var deletedOrder bool

	orders := &MockOrderRepo{
		CreateFunc: func(ctx context.Context, o *models.Order) error {
			o.ID = uuid.New()
			return nil
		},
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			return &models.Order{
				ID:             id,
				DeliveryOption: models.DeliveryTakeaway,
				Items: []models.PurchasedItem{
					{ItemID: itemID, PurchasedPrice: d("10"), PurchasedQuantity: 1},
				},
			}, nil
		},
		DeleteFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
			deletedOrder = true
			return true, nil
		},
	}
	items := &MockItemRepo{
		BatchGetByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
			return []models.Item{{ID: itemID, OriginalPrice: d("10"), Available: true, AvailableQuantity: 5}}, nil
		},
	}
	gw := &MockGateway{
		CreateRemoteOrderFunc: func(ctx context.Context, amountMinor int64, currency, receiptID string, notes map[string]string) (string, error) {
			return "", errors.New("gateway down")
		},
	}

	svc := service.NewCheckoutService(newRepo(orders, items, &MockPurchasedItemRepo{}), gw, service.NewPricing(nil), nil, "INR", zap.NewNop())

	_, err := svc.Checkout(ctx, service.CheckoutInput{
		Cart:           []service.CartLine{{ItemID: itemID, Quantity: 1}},
		DeliveryOption: models.DeliveryTakeaway,
	})
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if !deletedOrder {
		t.Fatal("order must be compensated after gateway failure")
	}
}

// settleWorld — разделяемое состояние для тестов расчёта: склад и статусы.
type settleWorld struct {
	mu sync.Mutex // защищает склад; держится на всю транзакцию расчёта
	stock map[uuid.UUID]int32

	stmu     sync.Mutex
	statuses map[uuid.UUID]models.PaymentStatus
	codes    map[uuid.UUID]string
}

func newSettleWorld() *settleWorld {
	return &settleWorld{
		stock:    map[uuid.UUID]int32{},
		statuses: map[uuid.UUID]models.PaymentStatus{},
		codes:    map[uuid.UUID]string{},
	}
}

func settleFixture(w *settleWorld, order *models.Order, lines []models.PurchasedItem) *repository.Repository {
	orders := &MockOrderRepo{
		GetByOrderIDFunc: func(ctx context.Context, orderID string) (*models.Order, error) {
			if orderID != order.OrderID {
				return nil, nil
			}
			cp := *order
			return &cp, nil
		},
		LockByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			if id != order.ID {
				return nil, nil
			}
			cp := *order
			w.stmu.Lock()
			if st, ok := w.statuses[id]; ok {
				cp.PaymentStatus = st
			}
			w.stmu.Unlock()
			return &cp, nil
		},
		UpdatePaymentStatusFunc: func(ctx context.Context, id uuid.UUID, status models.PaymentStatus, errorCode string) error {
			w.stmu.Lock()
			defer w.stmu.Unlock()
			w.statuses[id] = status
			if errorCode != "" {
				w.codes[id] = errorCode
			}
			return nil
		},
	}
	items := &MockItemRepo{
		LockByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
			out := make([]models.Item, 0, len(ids))
			for _, id := range ids {
				out = append(out, models.Item{ID: id, AvailableQuantity: w.stock[id]})
			}
			return out, nil
		},
		DeductFunc: func(ctx context.Context, id uuid.UUID, qty int32) (bool, error) {
			if w.stock[id] < qty {
				return false, nil
			}
			w.stock[id] -= qty
			return true, nil
		},
	}
	linesRepo := &MockPurchasedItemRepo{
		GetByOrderIDFunc: func(ctx context.Context, orderID uuid.UUID) ([]models.PurchasedItem, error) {
			return lines, nil
		},
	}
	// весь блок расчёта выполняется под общим замком — как FOR UPDATE в БД
	orders.WithTxFunc = func(ctx context.Context, fn func(repository.OrderRepo, repository.ItemRepo, repository.PurchasedItemRepo) error) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		return fn(orders, items, linesRepo)
	}
	return newRepo(orders, items, linesRepo)
}

func settleOrder(itemID uuid.UUID, qty int32) (*models.Order, []models.PurchasedItem) {
	id := uuid.New()
	order := &models.Order{
		ID:             id,
		OrderID:        "ORD-" + id.String()[:8],
		RemoteOrderID:  "rord_1",
		PaymentStatus:  models.PaymentStatusInitialized,
		DeliveryOption: models.DeliveryTakeaway,
		Items: []models.PurchasedItem{
			{OrderID: id, ItemID: itemID, PurchasedPrice: d("80"), PurchasedQuantity: qty},
		},
	}
	return order, order.Items
}

func TestSettle_SuccessDeductsInventory(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	w := newSettleWorld()
	w.stock[itemID] = 5

	order, lines := settleOrder(itemID, 3)
	repo := settleFixture(w, order, lines)

	captured := false
	gw := &MockGateway{
		CapturePaymentFunc: func(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error {
			captured = true
			if amountMinor != 25440 {
				t.Fatalf("capture amount expected 25440, got %d", amountMinor)
			}
			return nil
		},
	}

	svc := service.NewCheckoutService(repo, gw, service.NewPricing(nil), nil, "INR", zap.NewNop())

	ok, err := svc.Settle(ctx, order.OrderID, "rpay_1", "sig")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !ok {
		t.Fatal("settlement expected to succeed")
	}
	if !captured {
		t.Fatal("capture must be invoked")
	}
	if w.stock[itemID] != 2 {
		t.Fatalf("stock expected 2, got %d", w.stock[itemID])
	}
	if w.statuses[order.ID] != models.PaymentStatusSuccessful {
		t.Fatalf("payment status expected SUCC, got %s", w.statuses[order.ID])
	}
}

func TestSettle_SignatureMismatchLeavesInventoryUntouched(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	w := newSettleWorld()
	w.stock[itemID] = 5

	order, lines := settleOrder(itemID, 3)
	repo := settleFixture(w, order, lines)

	gw := &MockGateway{
		VerifySignatureFunc: func(remoteOrderID, remotePaymentID, remoteSignature string) error {
			return errors.New("signature mismatch")
		},
		CapturePaymentFunc: func(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error {
			t.Fatal("capture must not be invoked after signature failure")
			return nil
		},
	}

	svc := service.NewCheckoutService(repo, gw, service.NewPricing(nil), nil, "INR", zap.NewNop())

	ok, err := svc.Settle(ctx, order.OrderID, "rpay_1", "bad-sig")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if ok {
		t.Fatal("settlement must be rejected")
	}
	if w.stock[itemID] != 5 {
		t.Fatalf("stock must be unchanged, got %d", w.stock[itemID])
	}
	if w.statuses[order.ID] != models.PaymentStatusFailed {
		t.Fatalf("payment status expected FAIL, got %s", w.statuses[order.ID])
	}
	if w.codes[order.ID] != "SignatureVerificationError" {
		t.Fatalf("error code mismatch: %q", w.codes[order.ID])
	}
}

func TestSettle_CaptureDeclinedRollsBack(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	w := newSettleWorld()
	w.stock[itemID] = 5

	order, lines := settleOrder(itemID, 3)
	repo := settleFixture(w, order, lines)

	gw := &MockGateway{
		CapturePaymentFunc: func(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error {
			return errors.New("insufficient funds")
		},
	}

	svc := service.NewCheckoutService(repo, gw, service.NewPricing(nil), nil, "INR", zap.NewNop())

	ok, err := svc.Settle(ctx, order.OrderID, "rpay_1", "sig")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if ok {
		t.Fatal("settlement must be rejected")
	}
	if w.stock[itemID] != 5 {
		t.Fatalf("stock must be unchanged, got %d", w.stock[itemID])
	}
	if w.statuses[order.ID] != models.PaymentStatusFailed {
		t.Fatalf("payment status expected FAIL, got %s", w.statuses[order.ID])
	}
}

func TestSettle_ConcurrentOrdersSharedStock(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	w := newSettleWorld()
	w.stock[itemID] = 3

	// два заказа по 2 штуки на общий остаток 3 — пройти должен ровно один
	orderA, linesA := settleOrder(itemID, 2)
	orderB, linesB := settleOrder(itemID, 2)
	repoA := settleFixture(w, orderA, linesA)
	repoB := settleFixture(w, orderB, linesB)

	svcA := service.NewCheckoutService(repoA, &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())
	svcB := service.NewCheckoutService(repoB, &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ok, err := svcA.Settle(ctx, orderA.OrderID, "rpay_a", "sig")
		if err != nil {
			t.Errorf("Settle A: %v", err)
		}
		results[0] = ok
	}()
	go func() {
		defer wg.Done()
		ok, err := svcB.Settle(ctx, orderB.OrderID, "rpay_b", "sig")
		if err != nil {
			t.Errorf("Settle B: %v", err)
		}
		results[1] = ok
	}()
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one settlement must succeed, got %d", succeeded)
	}
	// запас списан ровно один раз
	if w.stock[itemID] != 1 {
		t.Fatalf("stock expected 1, got %d", w.stock[itemID])
	}

	var loser uuid.UUID
	if results[0] {
		loser = orderB.ID
	} else {
		loser = orderA.ID
	}
	if w.statuses[loser] != models.PaymentStatusFailed {
		t.Fatalf("loser must be FAIL, got %s", w.statuses[loser])
	}
	if w.codes[loser] != "NotEnoughQuantitiesAvailable" {
		t.Fatalf("loser error code mismatch: %q", w.codes[loser])
	}
}

func TestSettle_ConcurrentCallbacksSameOrder(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	w := newSettleWorld()
	w.stock[itemID] = 10

	// два параллельных колбэка одного заказа: оба проходят проверку статуса
	// до транзакции, исход решает перечитывание под блокировкой
	order, lines := settleOrder(itemID, 3)
	repo := settleFixture(w, order, lines)

	var captures int32
	gw := &MockGateway{
		CapturePaymentFunc: func(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error {
			atomic.AddInt32(&captures, 1)
			return nil
		},
	}

	svc := service.NewCheckoutService(repo, gw, service.NewPricing(nil), nil, "INR", zap.NewNop())

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Settle(ctx, order.OrderID, "rpay_1", "sig")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, ok := range results {
		if ok {
			succeeded++
			continue
		}
		if !errors.Is(errs[i], service.ErrAlreadySettled) {
			t.Fatalf("loser expected ErrAlreadySettled, got ok=%v err=%v", results[i], errs[i])
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one callback must settle, got %d", succeeded)
	}
	if got := atomic.LoadInt32(&captures); got != 1 {
		t.Fatalf("capture must happen exactly once, got %d", got)
	}
	if w.stock[itemID] != 7 {
		t.Fatalf("stock must be deducted exactly once: expected 7, got %d", w.stock[itemID])
	}
	if w.statuses[order.ID] != models.PaymentStatusSuccessful {
		t.Fatalf("payment status expected SUCC, got %s", w.statuses[order.ID])
	}
}

func TestCheckout_ReloadFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	itemID := uuid.New()
	orderUUID := uuid.New()
	var deletedLines, deletedOrder bool

	orders := &MockOrderRepo{
		CreateFunc: func(ctx context.Context, o *models.Order) error {
			o.ID = orderUUID
			return nil
		},
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			return nil, errors.New("connection reset")
		},
		DeleteFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
			deletedOrder = true
			return true, nil
		},
	}
	items := &MockItemRepo{
		BatchGetByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
			return []models.Item{{ID: itemID, OriginalPrice: d("10"), Available: true, AvailableQuantity: 5}}, nil
		},
	}
	lines := &MockPurchasedItemRepo{
		DeleteByOrderIDFunc: func(ctx context.Context, orderID uuid.UUID) (int64, error) {
			deletedLines = true
			return 1, nil
		},
	}

	svc := service.NewCheckoutService(newRepo(orders, items, lines), &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())

	_, err := svc.Checkout(ctx, service.CheckoutInput{
		Cart:           []service.CartLine{{ItemID: itemID, Quantity: 1}},
		DeliveryOption: models.DeliveryTakeaway,
	})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if !deletedLines || !deletedOrder {
		t.Fatalf("order must be compensated after reload failure: lines=%v order=%v", deletedLines, deletedOrder)
	}
}

func TestCheckout_ReloadMissingRowRollsBack(t *testing.T) {
	ctx := context.Background()

	itemID := uuid.New()
	var deletedOrder bool

	orders := &MockOrderRepo{
		CreateFunc: func(ctx context.Context, o *models.Order) error {
			o.ID = uuid.New()
			return nil
		},
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			return nil, nil
		},
		DeleteFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
			deletedOrder = true
			return true, nil
		},
	}
	items := &MockItemRepo{
		BatchGetByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
			return []models.Item{{ID: itemID, OriginalPrice: d("10"), Available: true, AvailableQuantity: 5}}, nil
		},
	}

	svc := service.NewCheckoutService(newRepo(orders, items, &MockPurchasedItemRepo{}), &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())

	_, err := svc.Checkout(ctx, service.CheckoutInput{
		Cart:           []service.CartLine{{ItemID: itemID, Quantity: 1}},
		DeliveryOption: models.DeliveryTakeaway,
	})
	if !errors.Is(err, service.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if !deletedOrder {
		t.Fatal("order must be compensated when the reload finds no row")
	}
}

func TestSettle_AlreadySettledRejected(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	w := newSettleWorld()
	w.stock[itemID] = 5

	order, lines := settleOrder(itemID, 1)
	order.PaymentStatus = models.PaymentStatusSuccessful
	repo := settleFixture(w, order, lines)

	svc := service.NewCheckoutService(repo, &MockGateway{}, service.NewPricing(nil), nil, "INR", zap.NewNop())

	_, err := svc.Settle(ctx, order.OrderID, "rpay_1", "sig")
	if !errors.Is(err, service.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

package service

import (
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

var taxRate = decimal.RequireFromString("0.06")

// ShippingRate — одна ступень тарифа: дистанция в (MinExclusive, MaxInclusive] км.
type ShippingRate struct {
	MinExclusive int
	MaxInclusive int
	Cost         decimal.Decimal
}

type ShippingTable []ShippingRate

// CostFor возвращает тариф для дистанции или false, если ни одна ступень не подошла
// (адрес недоставляемый).
func (t ShippingTable) CostFor(distance int) (decimal.Decimal, bool) {
	for _, r := range t {
		if distance > r.MinExclusive && distance <= r.MaxInclusive {
			return r.Cost, true
		}
	}
	return decimal.Zero, false
}

func DefaultShippingTable() ShippingTable {
	return ShippingTable{
		{MinExclusive: 0, MaxInclusive: 5, Cost: decimal.NewFromInt(20)},
		{MinExclusive: 5, MaxInclusive: 10, Cost: decimal.NewFromInt(35)},
		{MinExclusive: 10, MaxInclusive: 20, Cost: decimal.NewFromInt(50)},
		{MinExclusive: 20, MaxInclusive: 50, Cost: decimal.NewFromInt(80)},
	}
}

// round2 — банковское округление до 2 знаков; единый режим для всех денежных величин.
func round2(d decimal.Decimal) decimal.Decimal { return d.RoundBank(2) }

// ActualPrice: цена со скидкой, если скидка задана и ненулевая, иначе базовая цена.
func ActualPrice(it *models.Item) decimal.Decimal {
	if it.DiscountPrice != nil && !it.DiscountPrice.IsZero() {
		return *it.DiscountPrice
	}
	return it.OriginalPrice
}

func ItemSavings(it *models.Item) decimal.Decimal {
	if it.DiscountPrice != nil && !it.DiscountPrice.IsZero() {
		return it.OriginalPrice.Sub(*it.DiscountPrice)
	}
	return decimal.Zero
}

// Pricing — чистые вычисления сумм заказа по снимкам его позиций.
// Ничего не хранится: amount_payable всегда выводится заново, чтобы
// итог не мог разойтись со строками заказа.
type Pricing struct {
	Shipping ShippingTable
}

func NewPricing(t ShippingTable) Pricing {
	if t == nil {
		t = DefaultShippingTable()
	}
	return Pricing{Shipping: t}
}

func (p Pricing) TotalItemPrice(o *models.Order) decimal.Decimal {
	sum := decimal.Zero
	for i := range o.Items {
		line := &o.Items[i]
		sum = sum.Add(line.PurchasedPrice.Mul(decimal.NewFromInt32(line.PurchasedQuantity)))
	}
	return round2(sum)
}

func (p Pricing) TotalSavings(o *models.Order) decimal.Decimal {
	sum := decimal.Zero
	for i := range o.Items {
		line := &o.Items[i]
		sum = sum.Add(line.Savings.Mul(decimal.NewFromInt32(line.PurchasedQuantity)))
	}
	return round2(sum)
}

// TotalTax считается от уже округлённой суммы позиций.
func (p Pricing) TotalTax(o *models.Order) decimal.Decimal {
	return round2(taxRate.Mul(p.TotalItemPrice(o)))
}

func (p Pricing) TotalShipping(o *models.Order) (decimal.Decimal, error) {
	if o.DeliveryOption != models.DeliveryHomeDelivery {
		return decimal.Zero, nil
	}
	cost, ok := p.Shipping.CostFor(o.DistanceFromShop)
	if !ok {
		return decimal.Zero, ErrUndeliverableAddress
	}
	return cost, nil
}

func (p Pricing) AmountPayable(o *models.Order) (decimal.Decimal, error) {
	shipping, err := p.TotalShipping(o)
	if err != nil {
		return decimal.Zero, err
	}
	return round2(p.TotalItemPrice(o).Add(p.TotalTax(o)).Add(shipping)), nil
}

// AmountPayableMinor — сумма в минорных единицах для платёжного шлюза (amount×100).
func (p Pricing) AmountPayableMinor(o *models.Order) (int64, error) {
	amount, err := p.AmountPayable(o)
	if err != nil {
		return 0, err
	}
	return amount.Shift(2).IntPart(), nil
}

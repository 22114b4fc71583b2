// Package enrich turns validated cart lines into kitchen-ready order items.
package enrich

import (
	"fmt"
	"math"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/fulfillment/inventory"
	"order-fulfillment/internal/models"
)

// BogoKitchenNote is printed on tickets for buy-one-get-one lines.
const BogoKitchenNote = "⚡ BOGO APPLIED: MAKE 2 ⚡"

// Pricing holds the order-level pricing rules.
type Pricing struct {
	LargeSurcharge float64
	DeliveryFee    float64
}

// DefaultPricing matches the storefront's published prices.
var DefaultPricing = Pricing{LargeSurcharge: 100, DeliveryFee: 250}

// Enrich builds one order item per cart line. BOGO flags and unit prices come
// from the snapshot, never from the cart. The result depends only on its inputs.
func Enrich(items []models.CartItem, snap *inventory.Snapshot) ([]models.OrderItem, error) {
	out := make([]models.OrderItem, 0, len(items))
	for i, item := range items {
		if item.Quantity < 1 {
			return nil, apperrors.NewValidationError(fmt.Sprintf("items[%d]: quantity must be at least 1", i))
		}
		state, ok := snap.Lookup(item.ProductID)
		if !ok {
			return nil, apperrors.NewValidationError(fmt.Sprintf("items[%d]: product %s missing from availability snapshot", i, item.ProductID))
		}

		size := item.Size
		if size == "" {
			size = models.SizeRegular
		}

		modifiers := make([]models.Modifier, len(item.Modifiers))
		copy(modifiers, item.Modifiers)

		oi := models.OrderItem{
			ID:                state.Product.ID,
			Name:              state.Product.Name,
			Quantity:          item.Quantity,
			PrepQuantity:      item.Quantity,
			SelectedSize:      size,
			SelectedModifiers: modifiers,
			StickerText:       item.StickerText,
			IsBogo:            state.Override.IsBogo,
			PriceAtPurchase:   state.Price(),
		}
		if oi.IsBogo {
			oi.KitchenNote = BogoKitchenNote
			oi.PrepQuantity = item.Quantity * 2
		}
		out = append(out, oi)
	}
	return out, nil
}

// UnitPrice is the price of one unit of the line including modifiers and size.
func (p Pricing) UnitPrice(item models.OrderItem) float64 {
	price := item.PriceAtPurchase
	for _, m := range item.SelectedModifiers {
		price += m.Price
	}
	if item.SelectedSize == models.SizeLarge {
		price += p.LargeSurcharge
	}
	return price
}

// LineTotal is what the customer pays for the line. BOGO lines are charged
// for the ordered quantity only.
func (p Pricing) LineTotal(item models.OrderItem) float64 {
	return round2(p.UnitPrice(item) * float64(item.Quantity))
}

// OrderTotal sums every line and adds the delivery fee for delivery orders.
func (p Pricing) OrderTotal(items []models.OrderItem, orderType models.OrderType) float64 {
	total := 0.0
	for _, item := range items {
		total += p.LineTotal(item)
	}
	if orderType == models.OrderDelivery {
		total += p.DeliveryFee
	}
	return round2(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

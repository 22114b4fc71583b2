package enrich

import (
	"testing"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/fulfillment/inventory"
	"order-fulfillment/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() *inventory.Snapshot {
	sale := 200.0
	return &inventory.Snapshot{
		Branch: models.Branch{ID: "westlands", Name: "Westlands", IsOpen: true},
		Products: map[string]inventory.ProductState{
			"chai": {
				Product:  models.Product{ID: "chai", Name: "Karak Chai", BasePrice: 250},
				Override: models.BranchProduct{IsAvailable: true, IsBogo: true},
			},
			"fries": {
				Product:  models.Product{ID: "fries", Name: "Masala Fries", BasePrice: 300},
				Override: models.BranchProduct{IsAvailable: true, SalePrice: &sale},
			},
		},
	}
}

func TestEnrich_BogoFromSnapshot(t *testing.T) {
	items := []models.CartItem{
		// client claims no BOGO; the snapshot wins
		{ProductID: "chai", Name: "stale name", Quantity: 3, Size: models.SizeLarge, IsBogo: false},
		// client claims BOGO; the snapshot wins
		{ProductID: "fries", Quantity: 1, IsBogo: true, StickerText: "Happy birthday"},
	}

	out, err := Enrich(items, snapshot())
	require.NoError(t, err)
	require.Len(t, out, 2)

	chai := out[0]
	assert.Equal(t, "chai", chai.ID)
	assert.Equal(t, "Karak Chai", chai.Name)
	assert.True(t, chai.IsBogo)
	assert.Equal(t, BogoKitchenNote, chai.KitchenNote)
	assert.Equal(t, 3, chai.Quantity)
	assert.Equal(t, 6, chai.PrepQuantity)
	assert.Equal(t, 250.0, chai.PriceAtPurchase)

	fries := out[1]
	assert.False(t, fries.IsBogo)
	assert.Empty(t, fries.KitchenNote)
	assert.Equal(t, 1, fries.PrepQuantity)
	assert.Equal(t, 200.0, fries.PriceAtPurchase)
	assert.Equal(t, models.SizeRegular, fries.SelectedSize)
	assert.Equal(t, "Happy birthday", fries.StickerText)
	assert.NotNil(t, fries.SelectedModifiers)
}

func TestEnrich_IsDeterministic(t *testing.T) {
	items := []models.CartItem{
		{ProductID: "chai", Quantity: 2, Modifiers: []models.Modifier{{Name: "Oat", Type: models.ModifierMilk, Price: 50}}},
	}

	first, err := Enrich(items, snapshot())
	require.NoError(t, err)
	second, err := Enrich(items, snapshot())
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// the output does not alias the cart
	items[0].Modifiers[0].Price = 999
	assert.Equal(t, 50.0, first[0].SelectedModifiers[0].Price)
}

func TestEnrich_RejectsUnknownProductAndBadQuantity(t *testing.T) {
	_, err := Enrich([]models.CartItem{{ProductID: "ghost", Quantity: 1}}, snapshot())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	_, err = Enrich([]models.CartItem{{ProductID: "chai", Quantity: 0}}, snapshot())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestPricing_Totals(t *testing.T) {
	items, err := Enrich([]models.CartItem{
		{ProductID: "chai", Quantity: 2, Size: models.SizeLarge, Modifiers: []models.Modifier{
			{Name: "Oat", Type: models.ModifierMilk, Price: 50},
			{Name: "Extra shot", Type: models.ModifierShot, Price: 80},
		}},
		{ProductID: "fries", Quantity: 1},
	}, snapshot())
	require.NoError(t, err)

	p := DefaultPricing
	// (250 + 50 + 80 + 100) * 2
	assert.Equal(t, 960.0, p.LineTotal(items[0]))
	assert.Equal(t, 200.0, p.LineTotal(items[1]))
	assert.Equal(t, 1160.0, p.OrderTotal(items, models.OrderPickup))
	assert.Equal(t, 1410.0, p.OrderTotal(items, models.OrderDelivery))
}

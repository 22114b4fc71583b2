// internal/models/branch.go
package models

// Branch is a physical store location.
type Branch struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsOpen bool   `json:"is_open"`
}

// Product is a catalog entry shared by every branch.
type Product struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	BasePrice float64 `json:"base_price"`
}

// BranchProduct is the per-branch override of a product. A product without a
// stored override is available, not on BOGO, and sold at its base price.
type BranchProduct struct {
	BranchID    string   `json:"branch_id"`
	ProductID   string   `json:"product_id"`
	IsAvailable bool     `json:"is_available"`
	IsBogo      bool     `json:"is_bogo"`
	SalePrice   *float64 `json:"sale_price,omitempty"`
}

// DefaultBranchProduct is the override assumed when none is stored.
func DefaultBranchProduct(branchID, productID string) BranchProduct {
	return BranchProduct{BranchID: branchID, ProductID: productID, IsAvailable: true}
}

// EffectivePrice returns the sale price when set, otherwise basePrice.
func (bp BranchProduct) EffectivePrice(basePrice float64) float64 {
	if bp.SalePrice != nil {
		return *bp.SalePrice
	}
	return basePrice
}

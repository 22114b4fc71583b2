// internal/models/cart.go
package models

type Size string

const (
	SizeRegular Size = "Regular"
	SizeLarge   Size = "Large"
)

func (s Size) Valid() bool {
	return s == SizeRegular || s == SizeLarge
}

type ModifierType string

const (
	ModifierMilk    ModifierType = "milk"
	ModifierSyrup   ModifierType = "syrup"
	ModifierTopping ModifierType = "topping"
	ModifierShot    ModifierType = "shot"
)

func (m ModifierType) Valid() bool {
	switch m {
	case ModifierMilk, ModifierSyrup, ModifierTopping, ModifierShot:
		return true
	}
	return false
}

type Modifier struct {
	ID    string       `json:"id,omitempty"`
	Name  string       `json:"name"`
	Type  ModifierType `json:"type"`
	Price float64      `json:"price"`
}

// CartItem is a line submitted by the customer. IsBogo and TotalPrice are
// client-computed and never trusted.
type CartItem struct {
	ProductID   string     `json:"product_id"`
	Name        string     `json:"name"`
	Quantity    int        `json:"quantity"`
	Size        Size       `json:"selected_size"`
	Modifiers   []Modifier `json:"selected_modifiers"`
	StickerText string     `json:"sticker_text,omitempty"`
	IsBogo      bool       `json:"is_bogo"`
	TotalPrice  float64    `json:"total_price,omitempty"`
}

package discount

// ChildItem is a sub-component of a priced order line, e.g. a modifier.
type ChildItem struct {
	Offers               bool `json:"offers"`
	DiscountableQuantity int  `json:"discountableQuantity"`
}

// OrderLineItem is a priced line returned by the rewards discount endpoint.
type OrderLineItem struct {
	LineItemID           int64       `json:"lineItemId"`
	Offers               bool        `json:"offers"`
	DiscountableQuantity int         `json:"discountableQuantity"`
	ChildItems           []ChildItem `json:"childItems"`
}

func (it OrderLineItem) eligible() bool {
	return it.Offers && it.DiscountableQuantity >= 1
}

func (c ChildItem) eligible() bool {
	return c.Offers && c.DiscountableQuantity >= 1
}

// Modifier is a single selected option inside a modifier group.
type Modifier struct {
	ProductID   string `json:"productId"`
	DisplayName string `json:"displayName,omitempty"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
}

// ModifierGroup groups modifiers selected for a bag item.
type ModifierGroup struct {
	ProductID string     `json:"productId"`
	Modifiers []Modifier `json:"modifiers,omitempty"`
}

// BagChildItem is a bundled component carried by a bag item.
type BagChildItem struct {
	ProductID   string `json:"productId"`
	DisplayName string `json:"displayName,omitempty"`
	Quantity    int    `json:"quantity"`
}

// ItemDetails holds every bag item attribute except the line identifier.
type ItemDetails struct {
	ProductID        string          `json:"productId"`
	DisplayName      string          `json:"displayName,omitempty"`
	ListName         string          `json:"listName,omitempty"`
	Price            int64           `json:"price"`
	PriceType        string          `json:"priceType,omitempty"`
	Quantity         int             `json:"quantity"`
	ModifierGroups   []ModifierGroup `json:"modifierGroups,omitempty"`
	CategoryValidity []string        `json:"categoryValidity,omitempty"`
	ChildItems       []BagChildItem  `json:"childItems,omitempty"`
}

// Clone returns a deep copy so slices are never shared between bag entries.
func (d ItemDetails) Clone() ItemDetails {
	out := d
	if d.ModifierGroups != nil {
		out.ModifierGroups = make([]ModifierGroup, len(d.ModifierGroups))
		for i, g := range d.ModifierGroups {
			out.ModifierGroups[i] = g
			if g.Modifiers != nil {
				out.ModifierGroups[i].Modifiers = append([]Modifier(nil), g.Modifiers...)
			}
		}
	}
	if d.CategoryValidity != nil {
		out.CategoryValidity = append([]string(nil), d.CategoryValidity...)
	}
	if d.ChildItems != nil {
		out.ChildItems = append([]BagChildItem(nil), d.ChildItems...)
	}
	return out
}

// WithLineID attaches a line identifier, producing a bag item.
func (d ItemDetails) WithLineID(id int64) BagItem {
	return BagItem{LineItemID: id, ItemDetails: d.Clone()}
}

// BagItem is one entry of a customer's bag.
type BagItem struct {
	LineItemID int64 `json:"lineItemId"`
	ItemDetails
}

// Details returns the bag item without its line identifier.
func (b BagItem) Details() ItemDetails {
	return b.ItemDetails.Clone()
}

// Clone returns a deep copy of the bag item.
func (b BagItem) Clone() BagItem {
	return BagItem{LineItemID: b.LineItemID, ItemDetails: b.ItemDetails.Clone()}
}

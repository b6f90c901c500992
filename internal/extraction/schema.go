package extraction

import "strings"

// LineItem is one ordered product.
type LineItem struct {
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
}

// OrderFields is the target schema of every extraction call. All fields are
// optional: the extractor never invents missing values, so partial results
// are the normal case.
type OrderFields struct {
	DeliveryDate  string     `json:"delivery_date,omitempty"` // YYYY-MM-DD or DD.MM
	DeliveryTime  string     `json:"delivery_time,omitempty"` // HH:MM
	Address       string     `json:"address,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"` // pending|paid|partially_paid
	CustomerName  string     `json:"customer_name,omitempty"`
	ContactNumber string     `json:"contact_number,omitempty"`
	Items         []LineItem `json:"items,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Field group names. These double as the retry-counter keys for the
// conversational flow.
const (
	GroupItems    = "items"
	GroupDelivery = "delivery"
	GroupPayment  = "payment"
	GroupContacts = "contacts"
)

// Scope narrows an extraction call to one field group. ScopeFull asks for
// the whole schema at once (manager bulk extraction).
type Scope string

const (
	ScopeFull     Scope = "full"
	ScopeItems    Scope = Scope(GroupItems)
	ScopeDelivery Scope = Scope(GroupDelivery)
	ScopePayment  Scope = Scope(GroupPayment)
	ScopeContacts Scope = Scope(GroupContacts)
)

func (f OrderFields) HasItems() bool    { return len(f.Items) > 0 }
func (f OrderFields) HasDelivery() bool { return f.DeliveryDate != "" || f.DeliveryTime != "" }
func (f OrderFields) HasPayment() bool  { return f.PaymentStatus != "" }
func (f OrderFields) HasContacts() bool {
	return f.CustomerName != "" && f.ContactNumber != ""
}

// Complete reports whether every required field group is present.
func (f OrderFields) Complete() bool {
	return len(f.MissingGroups()) == 0
}

// MissingGroups lists required field groups not yet present, in collection
// order.
func (f OrderFields) MissingGroups() []string {
	var missing []string
	if !f.HasItems() {
		missing = append(missing, GroupItems)
	}
	if !f.HasDelivery() {
		missing = append(missing, GroupDelivery)
	}
	if !f.HasPayment() {
		missing = append(missing, GroupPayment)
	}
	if !f.HasContacts() {
		missing = append(missing, GroupContacts)
	}
	return missing
}

// Merge overlays non-empty fields from in onto f and returns the result.
// Existing values survive unless the incoming extraction supplies a
// replacement, so customers can answer out of order without losing
// anything already collected.
func (f OrderFields) Merge(in OrderFields) OrderFields {
	out := f
	if in.DeliveryDate != "" {
		out.DeliveryDate = in.DeliveryDate
	}
	if in.DeliveryTime != "" {
		out.DeliveryTime = in.DeliveryTime
	}
	if in.Address != "" {
		out.Address = in.Address
	}
	if in.PaymentStatus != "" {
		out.PaymentStatus = normalizePayment(in.PaymentStatus)
	}
	if in.CustomerName != "" {
		out.CustomerName = in.CustomerName
	}
	if in.ContactNumber != "" {
		out.ContactNumber = in.ContactNumber
	}
	if len(in.Items) > 0 {
		out.Items = in.Items
	}
	if in.Notes != "" {
		out.Notes = in.Notes
	}
	return out
}

func normalizePayment(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "оплачено":
		return "paid"
	case "partially_paid", "partial":
		return "partially_paid"
	default:
		return "pending"
	}
}

// Confidence is the coarse quality label attached to an extraction result.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor derives the label from field-group presence: high when the
// full schema is populated, medium when items plus at least two other
// groups are present, low otherwise.
func ConfidenceFor(f OrderFields) Confidence {
	if f.Complete() {
		return ConfidenceHigh
	}
	if !f.HasItems() {
		return ConfidenceLow
	}
	present := 0
	if f.HasDelivery() {
		present++
	}
	if f.HasPayment() {
		present++
	}
	if f.HasContacts() {
		present++
	}
	if present >= 2 {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

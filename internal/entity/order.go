package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus is the lifecycle position of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

// OrderStatuses lists every lifecycle status.
var OrderStatuses = []OrderStatus{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// PaymentStatus tracks money movement for an order.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// OrderItem is a single line of an order. UnitPrice is in minor units.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Note is an append-only free text annotation on an order.
type Note struct {
	At     time.Time `json:"at"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
}

// Order represents a purchase order stored in the relational database.
// Money fields are minor currency units.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID               string        `bun:"id,pk"`
	Number           string        `bun:"order_number,notnull"`
	OwnerID          string        `bun:"owner_id,notnull"`
	Items            []OrderItem   `bun:"items"`
	Subtotal         int64         `bun:"subtotal,notnull"`
	Tax              int64         `bun:"tax,notnull"`
	ShippingCost     int64         `bun:"shipping_cost,notnull"`
	Total            int64         `bun:"total,notnull"`
	Currency         string        `bun:"currency,notnull"`
	Status           OrderStatus   `bun:"status,notnull"`
	PaymentStatus    PaymentStatus `bun:"payment_status,notnull"`
	PaymentProvider  Provider      `bun:"payment_provider,notnull"`
	PaymentMethodRef string        `bun:"payment_method_ref,nullzero"`
	Notes            []Note        `bun:"notes"`
	Version          int64         `bun:"version,notnull"`
	CreatedAt        time.Time     `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time     `bun:"updated_at,nullzero"`
}

// AppendNote adds an annotation; existing notes are never rewritten.
func (o *Order) AppendNote(at time.Time, author, text string) {
	o.Notes = append(o.Notes, Note{At: at, Author: author, Text: text})
}

// Clone returns a deep copy safe to mutate independently.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	cp.Notes = append([]Note(nil), o.Notes...)
	return &cp
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery types accepted at order creation.
const (
	DeliveryTypeDelivery = "delivery"
	DeliveryTypePickup   = "pickup"
)

// Order is created exactly once by the settlement engine. OrderNumber is
// unique and monotonically increasing; the item set, totals and loyalty
// amounts are immutable after creation. Only Status changes later, via
// admin transitions.
type Order struct {
	BaseModel
	UserID        *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	User          *User      `json:"user,omitempty"`
	OrderNumber   int64      `gorm:"uniqueIndex" json:"order_number"`
	Status        string     `json:"status"`
	PlacedAt      time.Time  `json:"placed_at"`
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	DeliveryType  string     `json:"delivery_type"`
	Address       string     `json:"address,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	ItemsSubtotal float64    `json:"items_subtotal"`
	DeliveryFee   float64    `json:"delivery_fee"`
	BonusesUsed   int        `json:"bonuses_used"`
	BonusesEarned int        `json:"bonuses_earned"`
	FinalTotal    float64    `json:"final_total"`

	ExternalPosOrderID string     `json:"external_pos_order_id,omitempty"`
	PosSyncedAt        *time.Time `json:"pos_synced_at,omitempty"`
	PosSyncError       string     `json:"pos_sync_error,omitempty"`

	Items []OrderItem `json:"items,omitempty"`
}

// OrderItem is written once, atomically with its order header. An order
// never exists with zero items.
type OrderItem struct {
	BaseModel
	OrderID   uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	DishID    int64     `json:"dish_id"`
	DishName  string    `json:"dish_name"`
	Quantity  int       `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
	LineTotal float64   `json:"line_total"`
}

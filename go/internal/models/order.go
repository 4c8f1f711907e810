package models

// OrderStatus defines the lifecycle state of a purchase order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
)

// Order represents a submitted mission purchase order.
type Order struct {
	Player       string      `json:"player"`
	Mission      string      `json:"mission"`
	PlayersCount int         `json:"playersCount"`
	FinalPrice   int         `json:"finalPrice"`
	Affiliate    string      `json:"affiliate,omitempty"`
	Timestamp    int64       `json:"timestamp"`
	Status       OrderStatus `json:"status"`
}

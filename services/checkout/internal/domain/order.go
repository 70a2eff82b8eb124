package domain

import "time"

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "ONLINE"
	PaymentMethodCOD    PaymentMethod = "COD"
)

// PaymentStatus — статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING" // COD: деньги при получении
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// DeliveryStatus — статус доставки. Дальнейшие переходы делает fulfillment.
type DeliveryStatus string

const DeliveryStatusProcessing DeliveryStatus = "PROCESSING"

// OrderItem — позиция заказа с ценой, зафиксированной при создании сессии.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     Amount `json:"price"`
}

// Order — оформленный заказ.
type Order struct {
	ID              string
	UserID          string
	TransactionID   *string // nil для COD
	Items           []OrderItem
	TotalAmount     Amount
	Currency        string
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	DeliveryStatus  DeliveryStatus
	ShippingAddress ShippingAddress
	CreatedAt       time.Time
}

// NewOrderFromSession собирает заказ из оплаченной сессии по снимку цен.
func NewOrderFromSession(id string, s *PaymentSession, now time.Time) *Order {
	items := make([]OrderItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
	}
	txn := s.TransactionID
	return &Order{
		ID:              id,
		UserID:          s.UserID,
		TransactionID:   &txn,
		Items:           items,
		TotalAmount:     s.Amount,
		Currency:        s.Currency,
		PaymentMethod:   PaymentMethodOnline,
		PaymentStatus:   PaymentStatusPaid,
		DeliveryStatus:  DeliveryStatusProcessing,
		ShippingAddress: s.ShippingAddress,
		CreatedAt:       now,
	}
}

// NewCODOrder собирает заказ с оплатой при получении.
func NewCODOrder(id, userID, currency string, addr ShippingAddress, cart []CartItem, now time.Time) *Order {
	items := make([]OrderItem, len(cart))
	var total Amount
	for i, c := range cart {
		items[i] = OrderItem{ProductID: c.ProductID, Quantity: c.Quantity, Price: c.Product.Price}
		total += c.Subtotal()
	}
	return &Order{
		ID:              id,
		UserID:          userID,
		Items:           items,
		TotalAmount:     total,
		Currency:        currency,
		PaymentMethod:   PaymentMethodCOD,
		PaymentStatus:   PaymentStatusPending,
		DeliveryStatus:  DeliveryStatusProcessing,
		ShippingAddress: addr,
		CreatedAt:       now,
	}
}

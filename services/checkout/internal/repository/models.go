// Package repository содержит GORM реализацию хранилища checkout:
// платёжные сессии, заказы, корзина и каталог.
package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/storefront/services/checkout/internal/domain"
)

// SessionModel — GORM модель для таблицы payment_sessions.
type SessionModel struct {
	ID                    string     `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID         string     `gorm:"column:transaction_id;type:varchar(64);not null;uniqueIndex"`
	UserID                string     `gorm:"column:user_id;type:varchar(36);not null;index"`
	Amount                int64      `gorm:"column:amount;not null"`
	Currency              string     `gorm:"column:currency;type:varchar(3);not null"`
	Items                 []byte     `gorm:"column:items;type:json;not null"`
	ShippingAddress       []byte     `gorm:"column:shipping_address;type:json;not null"`
	Status                string     `gorm:"column:status;type:varchar(16);not null;index:idx_sessions_status_expires"`
	GatewayTransactionID  *string    `gorm:"column:gateway_transaction_id;type:varchar(64)"`
	PaymentURL            *string    `gorm:"column:payment_url;type:varchar(1024)"`
	OrderID               *string    `gorm:"column:order_id;type:varchar(36);uniqueIndex"`
	FailureReason         *string    `gorm:"column:failure_reason;type:text"`
	MaterializationStatus string     `gorm:"column:materialization_status;type:varchar(16);not null;default:NONE;index"`
	MaterializationError  *string    `gorm:"column:materialization_error;type:text"`
	CreatedAt             time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt             time.Time  `gorm:"column:expires_at;not null;index:idx_sessions_status_expires"`
	CompletedAt           *time.Time `gorm:"column:completed_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (SessionModel) TableName() string {
	return "payment_sessions"
}

// sessionItemRecord — позиция снимка в колонке items. Цена хранится
// в минимальных единицах, без десятичного форматирования.
type sessionItemRecord struct {
	CartItemID string `json:"cart_item_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"price"`
}

func (m *SessionModel) toDomain() (*domain.PaymentSession, error) {
	var records []sessionItemRecord
	if err := json.Unmarshal(m.Items, &records); err != nil {
		return nil, fmt.Errorf("сессия %s: разбор items: %w", m.TransactionID, err)
	}
	var addr domain.ShippingAddress
	if err := json.Unmarshal(m.ShippingAddress, &addr); err != nil {
		return nil, fmt.Errorf("сессия %s: разбор адреса: %w", m.TransactionID, err)
	}

	items := make([]domain.SessionItem, len(records))
	for i, r := range records {
		items[i] = domain.SessionItem{
			CartItemID: r.CartItemID,
			ProductID:  r.ProductID,
			Quantity:   r.Quantity,
			Price:      domain.Amount(r.Price),
		}
	}

	return &domain.PaymentSession{
		ID:                    m.ID,
		TransactionID:         m.TransactionID,
		UserID:                m.UserID,
		Amount:                domain.Amount(m.Amount),
		Currency:              m.Currency,
		Items:                 items,
		ShippingAddress:       addr,
		Status:                domain.SessionStatus(m.Status),
		GatewayTransactionID:  m.GatewayTransactionID,
		PaymentURL:            m.PaymentURL,
		OrderID:               m.OrderID,
		FailureReason:         m.FailureReason,
		MaterializationStatus: domain.MaterializationStatus(m.MaterializationStatus),
		MaterializationError:  m.MaterializationError,
		CreatedAt:             m.CreatedAt,
		ExpiresAt:             m.ExpiresAt,
		CompletedAt:           m.CompletedAt,
		UpdatedAt:             m.UpdatedAt,
	}, nil
}

func sessionModelFromDomain(s *domain.PaymentSession) (*SessionModel, error) {
	records := make([]sessionItemRecord, len(s.Items))
	for i, it := range s.Items {
		records[i] = sessionItemRecord{
			CartItemID: it.CartItemID,
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			Price:      int64(it.Price),
		}
	}
	items, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	addr, err := json.Marshal(s.ShippingAddress)
	if err != nil {
		return nil, err
	}

	matStatus := s.MaterializationStatus
	if matStatus == "" {
		matStatus = domain.MaterializationNone
	}

	return &SessionModel{
		ID:                    s.ID,
		TransactionID:         s.TransactionID,
		UserID:                s.UserID,
		Amount:                int64(s.Amount),
		Currency:              s.Currency,
		Items:                 items,
		ShippingAddress:       addr,
		Status:                string(s.Status),
		GatewayTransactionID:  s.GatewayTransactionID,
		PaymentURL:            s.PaymentURL,
		OrderID:               s.OrderID,
		FailureReason:         s.FailureReason,
		MaterializationStatus: string(matStatus),
		MaterializationError:  s.MaterializationError,
		CreatedAt:             s.CreatedAt,
		ExpiresAt:             s.ExpiresAt,
		CompletedAt:           s.CompletedAt,
		UpdatedAt:             s.UpdatedAt,
	}, nil
}

// OrderModel — GORM модель для таблицы orders.
type OrderModel struct {
	ID              string           `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID          string           `gorm:"column:user_id;type:varchar(36);not null;index"`
	TransactionID   *string          `gorm:"column:transaction_id;type:varchar(64);uniqueIndex"`
	TotalAmount     int64            `gorm:"column:total_amount;not null"`
	Currency        string           `gorm:"column:currency;type:varchar(3);not null"`
	PaymentMethod   string           `gorm:"column:payment_method;type:varchar(16);not null"`
	PaymentStatus   string           `gorm:"column:payment_status;type:varchar(16);not null"`
	DeliveryStatus  string           `gorm:"column:delivery_status;type:varchar(16);not null"`
	ShippingAddress []byte           `gorm:"column:shipping_address;type:json;not null"`
	CreatedAt       time.Time        `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items           []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
// Position сохраняет порядок позиций из снимка корзины.
type OrderItemModel struct {
	ID        string `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID   string `gorm:"column:order_id;type:varchar(36);not null;index"`
	Position  int    `gorm:"column:position;not null"`
	ProductID string `gorm:"column:product_id;type:varchar(36);not null"`
	Quantity  int    `gorm:"column:quantity;not null"`
	Price     int64  `gorm:"column:price;not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

func (m *OrderModel) toDomain() (*domain.Order, error) {
	var addr domain.ShippingAddress
	if err := json.Unmarshal(m.ShippingAddress, &addr); err != nil {
		return nil, fmt.Errorf("заказ %s: разбор адреса: %w", m.ID, err)
	}

	order := &domain.Order{
		ID:              m.ID,
		UserID:          m.UserID,
		TransactionID:   m.TransactionID,
		TotalAmount:     domain.Amount(m.TotalAmount),
		Currency:        m.Currency,
		PaymentMethod:   domain.PaymentMethod(m.PaymentMethod),
		PaymentStatus:   domain.PaymentStatus(m.PaymentStatus),
		DeliveryStatus:  domain.DeliveryStatus(m.DeliveryStatus),
		ShippingAddress: addr,
		CreatedAt:       m.CreatedAt,
		Items:           make([]domain.OrderItem, len(m.Items)),
	}
	for i, it := range m.Items {
		order.Items[i] = domain.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     domain.Amount(it.Price),
		}
	}
	return order, nil
}

// orderModelFromDomain конвертирует заказ в GORM модель. id позиций
// генерирует newID, чтобы тесты могли подставить детерминированные значения.
func orderModelFromDomain(o *domain.Order, newID func() string) (*OrderModel, error) {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return nil, err
	}

	model := &OrderModel{
		ID:              o.ID,
		UserID:          o.UserID,
		TransactionID:   o.TransactionID,
		TotalAmount:     int64(o.TotalAmount),
		Currency:        o.Currency,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		DeliveryStatus:  string(o.DeliveryStatus),
		ShippingAddress: addr,
		CreatedAt:       o.CreatedAt,
		Items:           make([]OrderItemModel, len(o.Items)),
	}
	for i, it := range o.Items {
		model.Items[i] = OrderItemModel{
			ID:        newID(),
			OrderID:   o.ID,
			Position:  i,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     int64(it.Price),
		}
	}
	return model, nil
}

// ProductModel — колонки таблицы products, которые нужны checkout.
// Таблицей владеет каталог.
type ProductModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Price     int64     `gorm:"column:price;not null"`
	Stock     int       `gorm:"column:stock;not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string {
	return "products"
}

// CartItemModel — позиция корзины. Таблицей владеет сервис корзины,
// checkout только читает и удаляет оплаченные позиции.
type CartItemModel struct {
	ID        string       `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string       `gorm:"column:user_id;type:varchar(36);not null;index"`
	ProductID string       `gorm:"column:product_id;type:varchar(36);not null"`
	Quantity  int          `gorm:"column:quantity;not null"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
	Product   ProductModel `gorm:"foreignKey:ProductID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (CartItemModel) TableName() string {
	return "cart_items"
}

func (m *CartItemModel) toDomain() domain.CartItem {
	return domain.CartItem{
		ID:        m.ID,
		UserID:    m.UserID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		Product: domain.Product{
			ID:     m.Product.ID,
			Name:   m.Product.Name,
			Price:  domain.Amount(m.Product.Price),
			Stock:  m.Product.Stock,
			Active: m.Product.IsActive,
		},
	}
}

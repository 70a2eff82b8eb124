// Package testutil содержит in-memory хранилище checkout для unit-тестов
// сервисов. Store повторяет семантику GORM репозиториев: compare-and-set
// переходы сессий, guarded списание склада и атомарную материализацию.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
)

var (
	_ repository.SessionRepository = (*Store)(nil)
	_ repository.CatalogRepository = (*Store)(nil)
	_ repository.OrderRepository   = (*Store)(nil)
)

// Event — событие, которое GORM репозиторий записал бы в outbox.
type Event struct {
	Type string
	Key  string
}

// Store — потокобезопасное хранилище в памяти.
type Store struct {
	mu       sync.Mutex
	sessions map[string]domain.PaymentSession
	orders   map[string]domain.Order
	products map[string]domain.Product
	cart     map[string]domain.CartItem
	events   []Event

	// MaterializeHook вызывается в начале Materialize под блокировкой.
	// Ненулевая ошибка прерывает материализацию как сбой фиксации.
	MaterializeHook func(s *domain.PaymentSession) error
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.PaymentSession),
		orders:   make(map[string]domain.Order),
		products: make(map[string]domain.Product),
		cart:     make(map[string]domain.CartItem),
	}
}

// =============================================================================
// Наполнение и проверки
// =============================================================================

// AddProduct добавляет товар в каталог.
func (st *Store) AddProduct(p domain.Product) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.products[p.ID] = p
}

// AddCartItem кладёт позицию в корзину. Поле Product игнорируется,
// при чтении подставляется текущее состояние товара.
func (st *Store) AddCartItem(c domain.CartItem) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c.Product = domain.Product{}
	st.cart[c.ID] = c
}

// SetPrice меняет цену товара в каталоге.
func (st *Store) SetPrice(productID string, price domain.Amount) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p := st.products[productID]
	p.Price = price
	st.products[productID] = p
}

// SetStock меняет остаток товара.
func (st *Store) SetStock(productID string, stock int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p := st.products[productID]
	p.Stock = stock
	st.products[productID] = p
}

// RemoveCartItem удаляет позицию, как это сделал бы пользователь.
func (st *Store) RemoveCartItem(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.cart, id)
}

// Stock возвращает текущий остаток товара.
func (st *Store) Stock(productID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.products[productID].Stock
}

// HasCartItem — лежит ли позиция в корзине.
func (st *Store) HasCartItem(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.cart[id]
	return ok
}

// OrderCount — сколько заказов создано.
func (st *Store) OrderCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.orders)
}

// Events возвращает копию записанных событий.
func (st *Store) Events() []Event {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slices.Clone(st.events)
}

// CountEvents считает события типа eventType.
func (st *Store) CountEvents(eventType string) int {
	n := 0
	for _, e := range st.Events() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// UpdateSession меняет сохранённую сессию в обход state machine
// (например, чтобы сдвинуть expires_at в прошлое).
func (st *Store) UpdateSession(transactionID string, fn func(s *domain.PaymentSession)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[transactionID]
	if !ok {
		return
	}
	fn(&s)
	st.sessions[transactionID] = s
}

func cloneSession(s domain.PaymentSession) *domain.PaymentSession {
	s.Items = slices.Clone(s.Items)
	return &s
}

func cloneOrder(o domain.Order) *domain.Order {
	o.Items = slices.Clone(o.Items)
	return &o
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// SessionRepository
// =============================================================================

func (st *Store) Create(_ context.Context, s *domain.PaymentSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[s.TransactionID]; ok {
		return domain.ErrDuplicateTransaction
	}
	c := *cloneSession(*s)
	if c.MaterializationStatus == "" {
		c.MaterializationStatus = domain.MaterializationNone
	}
	c.UpdatedAt = c.CreatedAt
	st.sessions[s.TransactionID] = c
	return nil
}

func (st *Store) GetByTransactionID(_ context.Context, transactionID string) (*domain.PaymentSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[transactionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (st *Store) AttachGatewayResponse(_ context.Context, transactionID, gatewayTransactionID, paymentURL string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[transactionID]
	if !ok || s.Status != domain.SessionStatusPending {
		return domain.ErrTransitionLost
	}
	s.GatewayTransactionID = ptr(gatewayTransactionID)
	s.PaymentURL = ptr(paymentURL)
	st.sessions[transactionID] = s
	return nil
}

func (st *Store) Transition(_ context.Context, transactionID string, t domain.Transition) (*domain.PaymentSession, error) {
	if !domain.CanTransition(domain.SessionStatusPending, t.To) {
		return nil, fmt.Errorf("недопустимый переход PENDING -> %s", t.To)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[transactionID]
	if !ok || s.Status != domain.SessionStatusPending {
		return nil, domain.ErrTransitionLost
	}

	s.Status = t.To
	s.UpdatedAt = t.At
	switch t.To {
	case domain.SessionStatusSuccess:
		s.CompletedAt = ptr(t.At)
	case domain.SessionStatusFailed:
		s.CompletedAt = ptr(t.At)
		s.FailureReason = ptr(t.FailureReason)
	}
	if t.GatewayTransactionID != "" {
		s.GatewayTransactionID = ptr(t.GatewayTransactionID)
	}
	st.sessions[transactionID] = s

	var eventType string
	switch t.To {
	case domain.SessionStatusSuccess:
		eventType = repository.EventSessionSucceeded
	case domain.SessionStatusFailed:
		eventType = repository.EventSessionFailed
	default:
		eventType = repository.EventSessionExpired
	}
	st.events = append(st.events, Event{Type: eventType, Key: transactionID})

	return cloneSession(s), nil
}

func (st *Store) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var expired []domain.PaymentSession
	for _, s := range st.sessions {
		if s.Status == domain.SessionStatusPending && s.ExpiresAt.Before(now) {
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })

	ids := make([]string, 0, len(expired))
	for i := 0; i < len(expired) && i < limit; i++ {
		ids = append(ids, expired[i].TransactionID)
	}
	return ids, nil
}

func (st *Store) ListStalled(_ context.Context, completedBefore time.Time, limit int) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var ids []string
	for _, s := range st.sessions {
		if s.NeedsMaterialization() &&
			s.MaterializationStatus == domain.MaterializationNone &&
			s.CompletedAt != nil && s.CompletedAt.Before(completedBefore) {
			ids = append(ids, s.TransactionID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (st *Store) MarkMaterializationFailed(_ context.Context, s *domain.PaymentSession, rerr *domain.ReconciliationError) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := st.sessions[s.TransactionID]
	if !ok || !cur.NeedsMaterialization() {
		return domain.ErrAlreadyMaterialized
	}
	cur.MaterializationStatus = domain.MaterializationFailed
	cur.MaterializationError = ptr(rerr.Error())
	st.sessions[s.TransactionID] = cur
	st.events = append(st.events, Event{Type: repository.EventReconciliation, Key: s.TransactionID})
	return nil
}

func (st *Store) ListAwaitingReconciliation(_ context.Context, limit int) ([]*domain.PaymentSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*domain.PaymentSession
	for _, s := range st.sessions {
		if s.AwaitingReconciliation() {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *Store) CountAwaitingReconciliation(_ context.Context) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var n int64
	for _, s := range st.sessions {
		if s.AwaitingReconciliation() {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// CatalogRepository
// =============================================================================

func (st *Store) GetCartItems(_ context.Context, userID string, ids []string) ([]domain.CartItem, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	items := make([]domain.CartItem, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		c, ok := st.cart[id]
		if !ok || c.UserID != userID || seen[id] {
			continue
		}
		seen[id] = true
		c.Product = st.products[c.ProductID]
		items = append(items, c)
	}
	return items, nil
}

// =============================================================================
// OrderRepository
// =============================================================================

func (st *Store) Materialize(_ context.Context, s *domain.PaymentSession, order *domain.Order) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := st.sessions[s.TransactionID]
	if !ok || !cur.NeedsMaterialization() {
		return domain.ErrAlreadyMaterialized
	}

	if st.MaterializeHook != nil {
		if err := st.MaterializeHook(cloneSession(cur)); err != nil {
			return &domain.ReconciliationError{TransactionID: s.TransactionID, Step: domain.StepCommit, Err: err}
		}
	}

	if step, err := st.checkout(order, cur.CartItemIDs()); err != nil {
		return &domain.ReconciliationError{TransactionID: s.TransactionID, Step: step, Err: err}
	}

	cur.OrderID = ptr(order.ID)
	cur.MaterializationStatus = domain.MaterializationDone
	cur.MaterializationError = nil
	st.sessions[s.TransactionID] = cur
	return nil
}

func (st *Store) CreateCOD(_ context.Context, order *domain.Order, cartItemIDs []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, err := st.checkout(order, cartItemIDs)
	return err
}

// checkout проверяет всё до первого изменения, поэтому сбой ничего
// не меняет, как откат транзакции.
func (st *Store) checkout(order *domain.Order, cartItemIDs []string) (string, error) {
	for _, id := range cartItemIDs {
		c, ok := st.cart[id]
		if !ok || c.UserID != order.UserID {
			return domain.StepCartRefetch, fmt.Errorf("%w: %s", domain.ErrCartItemsNotFound, id)
		}
	}

	demand := make(map[string]int)
	for _, it := range order.Items {
		demand[it.ProductID] += it.Quantity
	}
	for id, q := range demand {
		p, ok := st.products[id]
		if !ok || !p.Active {
			return domain.StepStockRecheck, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, id)
		}
		if p.Stock < q {
			return domain.StepStockRecheck, &domain.InsufficientStockError{ProductID: id, Requested: q, Available: p.Stock}
		}
	}
	if _, dup := st.orders[order.ID]; dup {
		return domain.StepCommit, fmt.Errorf("заказ %s уже существует", order.ID)
	}

	for id, q := range demand {
		p := st.products[id]
		p.Stock -= q
		st.products[id] = p
	}
	st.orders[order.ID] = *cloneOrder(*order)
	for _, id := range cartItemIDs {
		delete(st.cart, id)
	}

	key := order.ID
	if order.TransactionID != nil {
		key = *order.TransactionID
	}
	st.events = append(st.events, Event{Type: repository.EventOrderMaterialized, Key: key})
	return "", nil
}

func (st *Store) GetByID(_ context.Context, id string) (*domain.Order, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	o, ok := st.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/checkout/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// Materialize создаёт заказ по оплаченной сессии одной транзакцией:
	// фиксирует order_id в сессии, перечитывает корзину под блокировкой,
	// списывает склад, сохраняет заказ, удаляет оплаченные позиции и пишет
	// событие outbox. Если order_id уже заполнен, возвращает
	// domain.ErrAlreadyMaterialized; любой другой сбой откатывает всё и
	// возвращается как *domain.ReconciliationError.
	Materialize(ctx context.Context, s *domain.PaymentSession, order *domain.Order) error

	// CreateCOD создаёт заказ с оплатой при получении той же транзакцией,
	// но без платёжной сессии. Ошибки возвращаются как есть.
	CreateCOD(ctx context.Context, order *domain.Order, cartItemIDs []string) error

	// GetByID возвращает заказ с позициями или domain.ErrOrderNotFound.
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

type orderRepository struct {
	db     *gorm.DB
	topics Topics
	newID  func() string
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB, topics Topics) OrderRepository {
	return &orderRepository{db: db, topics: topics, newID: uuid.NewString}
}

// stepError помечает шаг материализации, на котором случился сбой.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func (r *orderRepository) Materialize(ctx context.Context, s *domain.PaymentSession, order *domain.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// order_id — маркер идемпотентности. Условный UPDATE одновременно
		// блокирует строку сессии до конца транзакции, поэтому второй
		// материализатор дождётся коммита и увидит order_id IS NOT NULL.
		res := tx.Model(&SessionModel{}).
			Where("transaction_id = ? AND status = ? AND order_id IS NULL", s.TransactionID, domain.SessionStatusSuccess).
			Updates(map[string]any{
				"order_id":               order.ID,
				"materialization_status": string(domain.MaterializationDone),
				"materialization_error":  nil,
				"updated_at":             order.CreatedAt,
			})
		if res.Error != nil {
			return &stepError{step: domain.StepCommit, err: res.Error}
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyMaterialized
		}

		return r.checkout(tx, order, s.CartItemIDs())
	})
	if err == nil || errors.Is(err, domain.ErrAlreadyMaterialized) {
		return err
	}

	step := domain.StepCommit
	var se *stepError
	if errors.As(err, &se) {
		step, err = se.step, se.err
	}
	return &domain.ReconciliationError{TransactionID: s.TransactionID, Step: step, Err: err}
}

func (r *orderRepository) CreateCOD(ctx context.Context, order *domain.Order, cartItemIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.checkout(tx, order, cartItemIDs)
	})

	var se *stepError
	if errors.As(err, &se) {
		err = se.err
	}
	if isDuplicateKeyError(err) {
		return fmt.Errorf("заказ %s уже существует: %w", order.ID, err)
	}
	return err
}

// checkout — общая часть онлайн и COD заказа, выполняется внутри tx.
func (r *orderRepository) checkout(tx *gorm.DB, order *domain.Order, cartItemIDs []string) error {
	var locked []CartItemModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND id IN ?", order.UserID, cartItemIDs).
		Find(&locked).Error; err != nil {
		return &stepError{step: domain.StepCartRefetch, err: err}
	}
	if len(locked) != len(cartItemIDs) {
		return &stepError{
			step: domain.StepCartRefetch,
			err:  fmt.Errorf("%w: в корзине %d из %d", domain.ErrCartItemsNotFound, len(locked), len(cartItemIDs)),
		}
	}

	for _, d := range stockDemand(order.Items) {
		if err := decrementStock(tx, d.productID, d.quantity); err != nil {
			return &stepError{step: domain.StepStockRecheck, err: err}
		}
	}

	model, err := orderModelFromDomain(order, r.newID)
	if err != nil {
		return &stepError{step: domain.StepCommit, err: err}
	}
	if err := tx.Create(model).Error; err != nil {
		return &stepError{step: domain.StepCommit, err: err}
	}

	// Удаляем только позиции этого заказа: добавленное в корзину позже остаётся.
	if err := tx.Where("user_id = ? AND id IN ?", order.UserID, cartItemIDs).
		Delete(&CartItemModel{}).Error; err != nil {
		return &stepError{step: domain.StepCommit, err: err}
	}

	ev, err := orderEvent(r.topics.Events, order)
	if err != nil {
		return &stepError{step: domain.StepCommit, err: err}
	}
	if err := outbox.Write(tx, ev); err != nil {
		return &stepError{step: domain.StepCommit, err: err}
	}
	return nil
}

type demand struct {
	productID string
	quantity  int
}

// stockDemand суммирует количество по товарам и сортирует по id:
// одинаковый порядок блокировок исключает взаимные блокировки.
func stockDemand(items []domain.OrderItem) []demand {
	byProduct := make(map[string]int, len(items))
	for _, it := range items {
		byProduct[it.ProductID] += it.Quantity
	}

	out := make([]demand, 0, len(byProduct))
	for id, q := range byProduct {
		out = append(out, demand{productID: id, quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

// decrementStock — guarded списание: проверка остатка и уменьшение
// выполняются одним UPDATE.
func decrementStock(tx *gorm.DB, productID string, quantity int) error {
	res := tx.Model(&ProductModel{}).
		Where("id = ? AND is_active = ? AND stock >= ?", productID, true, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var p ProductModel
	if err := tx.Select("id", "stock", "is_active").Where("id = ?", productID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrProductUnavailable, productID)
		}
		return err
	}
	if !p.IsActive {
		return fmt.Errorf("%w: %s", domain.ErrProductUnavailable, productID)
	}
	return &domain.InsufficientStockError{ProductID: productID, Requested: quantity, Available: p.Stock}
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

// Package circuitbreaker защищает вызовы внешнего платёжного шлюза.
// Пока шлюз недоступен, breaker открыт и вызовы отклоняются сразу,
// не занимая горутины запросов на время таймаута.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/storefront/pkg/logger"
)

// ErrOpen возвращается, когда breaker не пропускает вызов.
var ErrOpen = errors.New("circuit breaker открыт: внешний сервис временно недоступен")

// Settings — параметры breaker.
type Settings struct {
	MaxRequests  uint32        // пробных вызовов в Half-Open
	Interval     time.Duration // период сброса счётчиков в Closed
	Timeout      time.Duration // время в Open до перехода в Half-Open
	FailureRatio float64       // доля сбоев для открытия
	MinRequests  uint32        // минимальная выборка для расчёта доли
}

// DefaultSettings — значения для платёжного шлюза.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — gobreaker с логированием смены состояний и фильтром сбоев.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[any]
	name      string
	isFailure func(error) bool
}

// New создаёт breaker с настройками по умолчанию.
// isFailure решает, какие ошибки считать сбоем сервиса; nil — любые.
func New(name string, isFailure func(error) bool) *Breaker {
	return NewWithSettings(name, DefaultSettings(), isFailure)
}

// NewWithSettings создаёт breaker с заданными настройками.
func NewWithSettings(name string, s Settings, isFailure func(error) bool) *Breaker {
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	b := &Breaker{name: name, isFailure: isFailure}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		// Бизнес-отказы шлюза (платёж отклонён) не открывают breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !b.isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — шлюз недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробный запрос к шлюзу")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — шлюз восстановлен")
			}
		},
	})

	return b
}

// Execute выполняет fn под защитой breaker.
// Ошибка fn возвращается как есть; при открытом breaker возвращается ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

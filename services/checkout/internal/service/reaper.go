package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/repository"
)

// ReaperConfig — параметры фонового обхода.
type ReaperConfig struct {
	Interval     time.Duration
	BatchSize    int
	StalledAfter time.Duration // через сколько оплаченная сессия без заказа считается зависшей
}

// SweepResult — итог одного обхода.
type SweepResult struct {
	Expired int // сессии, которые reaper перевёл в EXPIRED
	Lost    int // сессии, финализированные другим участником во время обхода
	Resumed int // зависшие оплаченные сессии, для которых создан заказ
	Failed  int // ошибки по отдельным сессиям
}

// Reaper закрывает просроченные PENDING сессии и доделывает материализацию
// оплаченных сессий, прерванных падением процесса.
type Reaper struct {
	sessions     repository.SessionRepository
	gw           gateway.Gateway
	finalizer    *Finalizer
	materializer *Materializer
	cfg          ReaperConfig
	now          func() time.Time
}

// NewReaper создаёт reaper. gw может быть nil: тогда поздние оплаты не
// выявляются, сессии просто истекают.
func NewReaper(
	sessions repository.SessionRepository,
	gw gateway.Gateway,
	finalizer *Finalizer,
	materializer *Materializer,
	cfg ReaperConfig,
) *Reaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reaper{
		sessions:     sessions,
		gw:           gw,
		finalizer:    finalizer,
		materializer: materializer,
		cfg:          cfg,
		now:          utcNow,
	}
}

// Run выполняет Sweep каждые Interval до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", r.cfg.Interval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Запуск reaper")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка reaper")
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Ошибка обхода сессий")
				continue
			}
			if res != (SweepResult{}) {
				log.Info().
					Int("expired", res.Expired).
					Int("lost", res.Lost).
					Int("resumed", res.Resumed).
					Int("failed", res.Failed).
					Msg("Обход сессий завершён")
			}
		}
	}
}

// Sweep — один проход: истечение, затем зависшие материализации.
// Ошибка по одной сессии не прерывает обход.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now()

	expired, err := r.sessions.ListExpiredPending(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for _, txn := range expired {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r.expire(ctx, txn, &res)
	}

	if r.cfg.StalledAfter > 0 {
		stalled, err := r.sessions.ListStalled(ctx, now.Add(-r.cfg.StalledAfter), r.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		for _, txn := range stalled {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.resume(ctx, txn, &res)
		}
	}

	r.materializer.refreshGauge(ctx)
	return res, nil
}

func (r *Reaper) expire(ctx context.Context, txn string, res *SweepResult) {
	ctx = logger.WithTransactionID(ctx, txn)
	out := Outcome{To: domain.SessionStatusExpired, Source: domain.SourceReaper}

	if r.gw != nil {
		if s, err := r.sessions.GetByTransactionID(ctx, txn); err == nil {
			out.GatewayTransactionID = r.latePayment(ctx, s)
		}
	}

	_, applied, err := r.finalizer.Finalize(ctx, txn, out)
	switch {
	case err != nil:
		res.Failed++
		logger.Ctx(ctx).Error().Err(err).Msg("Не удалось закрыть просроченную сессию")
	case applied:
		res.Expired++
	default:
		res.Lost++
	}
}

// latePayment спрашивает шлюз, не прошла ли оплата после истечения сессии,
// и возвращает id транзакции шлюза для возврата. Оплата на другую сумму
// не принимается и id не сохраняется.
func (r *Reaper) latePayment(ctx context.Context, s *domain.PaymentSession) string {
	st, err := r.gw.CheckStatus(ctx, s.TransactionID)
	if err != nil || st.State != gateway.StateCompleted {
		return ""
	}
	if paidAmountMismatch(s, st.State, st.Amount) {
		securityEvent(ctx, domain.SourceReaper, fmt.Sprintf("сумма оплаты %s не совпадает с сессией %s", st.Amount, s.Amount))
		return ""
	}
	warnLatePayment(ctx, s, domain.SourceReaper, st.GatewayTransactionID)
	return st.GatewayTransactionID
}

func (r *Reaper) resume(ctx context.Context, txn string, res *SweepResult) {
	ctx = logger.WithTransactionID(ctx, txn)

	s, err := r.sessions.GetByTransactionID(ctx, txn)
	if err != nil {
		res.Failed++
		logger.Ctx(ctx).Error().Err(err).Msg("Не удалось загрузить зависшую сессию")
		return
	}
	if !s.NeedsMaterialization() || s.MaterializationStatus != domain.MaterializationNone {
		return
	}

	logger.Ctx(ctx).Warn().Msg("Оплаченная сессия без заказа, продолжаем материализацию")
	if _, err := r.materializer.Materialize(ctx, s); err != nil {
		var rerr *domain.ReconciliationError
		if !errors.As(err, &rerr) {
			logger.Ctx(ctx).Error().Err(err).Msg("Ошибка материализации зависшей сессии")
		}
		res.Failed++
		return
	}
	res.Resumed++
}

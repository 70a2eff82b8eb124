package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/storefront/pkg/config"
	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
	"example.com/storefront/services/checkout/internal/service"
)

type appLoader func(cmd *cobra.Command) (*app, error)

type configLoader func() (*config.Config, error)

// sweeper и reconciler — то, что команды используют из service (подменяется в тестах).
type sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

type reconciler interface {
	List(ctx context.Context, limit int) ([]*domain.PaymentSession, error)
	Retry(ctx context.Context, transactionID string) (*domain.Order, error)
}

func sweepCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Один обход: истечь просроченные PENDING сессии и доделать зависшие заказы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runSweep(cmd.Context(), a.reaper, cmd.OutOrStdout())
		},
	}
}

func reconcileCmd(load appLoader, loadCfg configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Оплаченные сессии, для которых не удалось создать заказ",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Показать сессии, ожидающие сверки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runList(cmd.Context(), a.reconciler, limit, cmd.OutOrStdout())
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "максимум записей")

	retry := &cobra.Command{
		Use:   "retry [transactionId]",
		Short: "Повторить создание заказа для оплаченной сессии",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runRetry(cmd.Context(), a.reconciler, args[0], cmd.OutOrStdout())
		},
	}

	var fromStart bool
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Следить за новыми событиями сверки в Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			consumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers},
				cfg.Kafka.ReconciliationTopic, watchGroupID, fromStart)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return consumer.Consume(ctx, printReconciliation(cmd.OutOrStdout()))
		},
	}
	watch.Flags().BoolVar(&fromStart, "from-start", false, "читать топик с начала")

	cmd.AddCommand(list, retry, watch)
	return cmd
}

// watchGroupID — отдельная group, чтобы watch не отнимал партиции у других потребителей.
const watchGroupID = "checkout-ops-watch"

// printReconciliation печатает событие сверки одной строкой.
// Нераспознанные сообщения пропускаются, иначе watch застрял бы на них.
func printReconciliation(out io.Writer) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		var ev repository.ReconciliationEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", string(msg.Key)).Msg("Пропущено нераспознанное событие")
			return nil
		}
		fmt.Fprintf(out, "%s %s user=%s amount=%s step=%s error=%q\n",
			ev.At.UTC().Format(time.RFC3339), ev.TransactionID, ev.UserID, ev.Amount, ev.Step, ev.Error)
		return nil
	}
}

func runSweep(ctx context.Context, s sweeper, out io.Writer) error {
	res, err := s.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("обход не выполнен: %w", err)
	}
	fmt.Fprintf(out, "expired=%d lost=%d resumed=%d failed=%d\n", res.Expired, res.Lost, res.Resumed, res.Failed)
	return nil
}

func runList(ctx context.Context, r reconciler, limit int, out io.Writer) error {
	sessions, err := r.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("ошибка получения списка: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "Нет сессий, ожидающих сверки")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSACTION\tUSER\tAMOUNT\tPAID AT\tERROR")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\n",
			s.TransactionID, s.UserID, s.Amount, s.Currency, formatTime(s.CompletedAt), deref(s.MaterializationError))
	}
	return tw.Flush()
}

func runRetry(ctx context.Context, r reconciler, transactionID string, out io.Writer) error {
	order, err := r.Retry(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("сверка %s не выполнена: %w", transactionID, err)
	}
	fmt.Fprintf(out, "Заказ %s создан для %s\n", order.ID, transactionID)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

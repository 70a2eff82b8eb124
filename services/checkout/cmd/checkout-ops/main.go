// checkout-ops — операторские команды checkout: разовый обход просроченных
// сессий и ручная сверка оплаченных сессий без заказа.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"example.com/storefront/pkg/config"
	"example.com/storefront/pkg/db"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/repository"
	"example.com/storefront/services/checkout/internal/service"
)

// Version подставляется при сборке через -ldflags.
var Version = "dev"

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "checkout-ops",
		Short:         "Операторские команды checkout",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "путь к .env файлу (по умолчанию окружение процесса)")

	readConfig := func() (*config.Config, error) {
		return loadConfig(envFile)
	}
	loadApp := func(cmd *cobra.Command) (*app, error) {
		cfg, err := readConfig()
		if err != nil {
			return nil, err
		}
		return newApp(cfg)
	}

	rootCmd.AddCommand(sweepCmd(loadApp))
	rootCmd.AddCommand(reconcileCmd(loadApp, readConfig))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app — зависимости, нужные командам. Redis не подключается:
// в режиме эмуляции шлюза reaper обходится без проверки статуса.
type app struct {
	db         *gorm.DB
	reaper     *service.Reaper
	reconciler *service.Reconciler
}

// loadConfig читает конфигурацию и настраивает логгер на stderr,
// чтобы stdout оставался для вывода команд.
func loadConfig(envFile string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.LoadFromFile(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	gormDB, err := db.ConnectMySQL(cfg.MySQL, false)
	if err != nil {
		return nil, err
	}

	topics := repository.Topics{
		Events:         cfg.Kafka.EventsTopic,
		Reconciliation: cfg.Kafka.ReconciliationTopic,
	}
	sessions := repository.NewSessionRepository(gormDB, topics)
	orders := repository.NewOrderRepository(gormDB, topics)
	materializer := service.NewMaterializer(sessions, orders)
	finalizer := service.NewFinalizer(sessions, materializer)

	var gw gateway.Gateway
	if !cfg.Gateway.IsMock() {
		gw = gateway.NewClient(gateway.Config{
			BaseURL:    cfg.Gateway.BaseURL,
			MerchantID: cfg.Gateway.MerchantID,
			SaltKey:    cfg.Gateway.SaltKey,
			SaltIndex:  cfg.Gateway.SaltIndex,
			Timeout:    cfg.Gateway.Timeout,
		}, &http.Client{Timeout: cfg.Gateway.Timeout})
	}

	return &app{
		db: gormDB,
		reaper: service.NewReaper(sessions, gw, finalizer, materializer, service.ReaperConfig{
			Interval:     cfg.Checkout.ReaperInterval,
			BatchSize:    cfg.Checkout.ReaperBatchSize,
			StalledAfter: cfg.Checkout.StalledAfter,
		}),
		reconciler: service.NewReconciler(sessions, materializer),
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}
}

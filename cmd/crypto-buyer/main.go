package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/STTM-NSU/crypto-buyer/internal/buyer"
	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/executor"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/funds"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/instrument"
	"github.com/STTM-NSU/crypto-buyer/internal/invest/portfolio"
	"github.com/STTM-NSU/crypto-buyer/internal/ledger"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/postgres"
	"github.com/STTM-NSU/crypto-buyer/internal/retry"
	"github.com/STTM-NSU/crypto-buyer/internal/screener"
	"github.com/STTM-NSU/crypto-buyer/internal/sheet"
	"github.com/STTM-NSU/crypto-buyer/internal/venue"
	"github.com/STTM-NSU/crypto-buyer/internal/venue/coinbase"
	"github.com/STTM-NSU/crypto-buyer/internal/venue/paper"
)

const (
	_buyerCfgFilePath = "./configs/buyer.yaml"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadBuyerConfig(_buyerCfgFilePath)
	if err != nil {
		log.Fatalf("%s: can't load buyer cfg", err)
	}

	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if envErr != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tables, closeStore, err := openTables(ctx, cfg.Store, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't open store", err)
	}
	defer closeStore()

	v, err := newVenue(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't create venue", err)
	}
	if c, ok := v.(io.Closer); ok {
		defer c.Close()
	}

	policy := retry.NewPolicy(cfg.Retry, zapLogger.With("component", "retry"))

	rules, err := instrument.NewRulesService(v, policy, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't create rules service", err)
	}
	defer rules.Close()

	source := screener.Source(screener.NewTableSource(tables.screener, cfg.Screener.Limit, zapLogger))
	if cfg.Screener.Source == config.ScreenerHTTP {
		httpSource := screener.NewHTTPSource(cfg.Screener, zapLogger)
		defer httpSource.Close()
		source = httpSource
	}

	journal := ledger.NewJournal(tables.log, zapLogger)
	book := ledger.NewCostBook(tables.cost, zapLogger)
	portfolioService := portfolio.NewService(v, policy, cfg.Funding, zapLogger)
	router := funds.NewRouter(v, portfolioService, journal, policy, cfg.Funding, cfg.DryRun, zapLogger.With("component", "funds"))
	exec := executor.NewExecutor(v, rules, policy, cfg.Orders, cfg.DryRun, zapLogger.With("component", "executor"))

	b := buyer.New(cfg, source, portfolioService, router, exec, book, journal, zapLogger)

	zapLogger.Infof("crypto-buyer starting: venue %s, store %s, dry-run %t", v.Name(), cfg.Store.Kind, cfg.DryRun)
	summary, err := b.Run(ctx)
	if err != nil {
		zapLogger.Fatalf("%s: crypto-buyer failed", err)
	}
	zapLogger.Infof("crypto-buyer done: %s", summary)
}

type tabs struct {
	screener sheet.Table
	log      sheet.Table
	cost     sheet.Table
}

func openTables(ctx context.Context, cfg config.StoreConfig, l logger.Logger) (tabs, func(), error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Kind {
	case config.Memory:
		l.Warnf("memory store: nothing is kept after the run")
		return tabs{
			screener: sheet.NewMemory(),
			log:      sheet.NewMemory(),
			cost:     sheet.NewMemory(),
		}, func() {}, nil
	case config.SQLite:
		db, err = sheet.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		db, err = postgres.NewDB(ctx, cfg.Postgres)
		if err == nil {
			err = sheet.Migrate(ctx, db)
		}
	}
	if err != nil {
		return tabs{}, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			l.Errorf("%s: can't close db", err)
		}
	}
	return tabs{
		screener: sheet.NewSQL(db, cfg.ScreenerTab, l),
		log:      sheet.NewSQL(db, cfg.LogTab, l),
		cost:     sheet.NewSQL(db, cfg.CostTab, l),
	}, closeDB, nil
}

func newVenue(cfg config.BuyerConfig, l logger.Logger) (venue.Venue, error) {
	switch cfg.Venue.Kind {
	case config.Paper:
		return paper.New(cfg.Venue.Paper, l.With("venue", "paper")), nil
	default:
		if cfg.Venue.Coinbase.APIKey == "" || cfg.Venue.Coinbase.APISecret == "" {
			return nil, fmt.Errorf("empty coinbase api key or secret")
		}
		c, err := coinbase.New(cfg.Venue.Coinbase, l.With("venue", "coinbase"))
		if err != nil {
			return nil, fmt.Errorf("%w: can't create coinbase client", err)
		}
		return c, nil
	}
}

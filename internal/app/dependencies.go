package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/flashorder/internal/health"
	ledgermemory "github.com/vladislavdragonenkov/flashorder/internal/ledger/memory"
	ledgerredis "github.com/vladislavdragonenkov/flashorder/internal/ledger/redis"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/memory"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/mysql"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/postgres"
)

// runtimeDependencies содержит хранилище, счётчик остатков и их проверки здоровья.
type runtimeDependencies struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	ledger   domain.StockLedger

	checkers map[string]healthcheck.Checker
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (d *runtimeDependencies) addCloser(name string, fn func() error) {
	d.closers = append(d.closers, namedCloser{name: name, close: fn})
}

func (d *runtimeDependencies) addChecker(name string, checker healthcheck.Checker) {
	if d.checkers == nil {
		d.checkers = make(map[string]healthcheck.Checker)
	}
	d.checkers[name] = checker
}

// Close закрывает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) Close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает хранилище и счётчик остатков по конфигурации.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	if err := initStorage(ctx, cfg, logger, deps); err != nil {
		deps.Close(logger)
		return nil, err
	}
	if err := initLedger(ctx, cfg, logger, deps); err != nil {
		deps.Close(logger)
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps.products = memory.NewProductRepository(store)
		deps.orders = memory.NewOrderRepository(store)
		deps.outbox = memory.NewOutboxRepository(store)
		if cfg.SeedDemoCatalog {
			if err := seedCatalog(ctx, deps.products, domain.DemoProducts()); err != nil {
				return err
			}
			logger.Info("demo catalog seeded into memory storage")
		}
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.addCloser("postgres", store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		deps.products = postgres.NewProductRepository(store)
		deps.orders = postgres.NewOrderRepository(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		deps.addChecker("postgres", healthcheck.NewPingChecker("postgres", store.Ping))
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return nil

	case StorageDriverMySQL:
		if cfg.MySQLDSN == "" {
			return errors.New("mysql dsn is required for mysql storage driver")
		}
		store, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		deps.addCloser("mysql", store.Close)
		if cfg.MySQLAutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("mysql auto migrate: %w", err)
			}
		}
		deps.products = mysql.NewProductRepository(store)
		deps.orders = mysql.NewOrderRepository(store)
		deps.outbox = mysql.NewOutboxRepository(store)
		deps.addChecker("mysql", healthcheck.NewPingChecker("mysql", store.Ping))
		logger.WithField("auto_migrate", cfg.MySQLAutoMigrate).Info("using mysql storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initLedger(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.LedgerDriver {
	case "", LedgerDriverMemory:
		deps.ledger = ledgermemory.NewLedger()
		logger.Info("using in-memory stock ledger")
		return nil

	case LedgerDriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.addCloser("redis", client.Close)

		ledger := ledgerredis.NewLedger(client, ledgerredis.WithKeyPrefix(cfg.RedisKeyPrefix))
		if err := ledger.Preload(ctx); err != nil {
			return fmt.Errorf("preload redis ledger scripts: %w", err)
		}
		deps.ledger = ledger
		deps.addChecker("redis", healthcheck.NewPingChecker("redis", ledger.Ping))
		logger.WithFields(log.Fields{
			"addr":       cfg.RedisAddr,
			"key_prefix": cfg.RedisKeyPrefix,
		}).Info("using redis stock ledger")
		return nil

	default:
		return fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}
}

// seedCatalog добавляет товары, которых ещё нет в хранилище.
func seedCatalog(ctx context.Context, products domain.ProductRepository, catalog []domain.Product) error {
	for _, p := range catalog {
		_, err := products.Get(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrProductNotFound) {
			return fmt.Errorf("lookup product %d: %w", p.ID, err)
		}
		if err := products.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}
	return nil
}

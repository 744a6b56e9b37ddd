// Команда ledger-sync выставляет счётчики остатков в Redis по данным БД.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/app"
	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	ledgerredis "github.com/vladislavdragonenkov/flashorder/internal/ledger/redis"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/mysql"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/postgres"
)

const defaultTimeout = time.Minute

type options struct {
	configPath string
	demo       bool
	dryRun     bool
	force      bool
	productIDs []int64
}

func parseOptions(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("ledger-sync", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts     options
		products string
	)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML config")
	fs.BoolVar(&opts.demo, "demo", false, "upsert demo catalog into storage before sync")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "print ledger state without changing it")
	fs.BoolVar(&opts.force, "force", false, "reset counters even when reservations are pending")
	fs.StringVar(&products, "products", "", "comma-separated product ids (default: all)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	ids, err := parseIDs(products)
	if err != nil {
		return options{}, err
	}
	opts.productIDs = ids
	return opts, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// productState: сверка одного товара: остаток в БД против счётчика и резервов.
type productState struct {
	ProductID int64
	Stock     int64
	Seeded    bool
	Available int64
	Pending   int64
	Action    string
}

// Drift: расхождение счётчика с БД с учётом незакрытых резервов.
func (s productState) Drift() int64 {
	if !s.Seeded {
		return 0
	}
	return s.Available + s.Pending - s.Stock
}

const (
	actionReset   = "reset"
	actionSkipped = "skipped"
	actionNone    = "none"
)

// syncLedger сверяет счётчики с остатками БД и при необходимости перезаписывает их.
// Товар с незакрытыми резервами пропускается без force: Reset сбросил бы чужие резервы.
func syncLedger(ctx context.Context, products domain.ProductRepository, ledger domain.StockLedger, opts options, logger *log.Entry) ([]productState, error) {
	catalog, err := selectProducts(ctx, products, opts.productIDs)
	if err != nil {
		return nil, err
	}

	states := make([]productState, 0, len(catalog))
	for _, product := range catalog {
		snapshot, err := ledger.Snapshot(ctx, product.ID)
		if err != nil {
			return states, fmt.Errorf("snapshot product %d: %w", product.ID, err)
		}

		state := productState{
			ProductID: product.ID,
			Stock:     product.Stock,
			Seeded:    snapshot.Seeded,
			Available: snapshot.Available,
			Pending:   snapshot.PendingTotal(),
			Action:    actionNone,
		}

		switch {
		case opts.dryRun:
		case state.Pending > 0 && !opts.force:
			state.Action = actionSkipped
			logger.WithFields(log.Fields{
				"product_id": product.ID,
				"pending":    state.Pending,
			}).Warn("product has pending reservations, use -force to reset")
		default:
			if err := ledger.Reset(ctx, product.ID, product.Stock); err != nil {
				return states, fmt.Errorf("reset product %d: %w", product.ID, err)
			}
			state.Action = actionReset
			logger.WithFields(log.Fields{
				"product_id": product.ID,
				"stock":      product.Stock,
			}).Info("ledger counter reset")
		}
		states = append(states, state)
	}
	return states, nil
}

func selectProducts(ctx context.Context, products domain.ProductRepository, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		all, err := products.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		return all, nil
	}

	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		product, err := products.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get product %d: %w", id, err)
		}
		out = append(out, product)
	}
	return out, nil
}

func seedDemo(ctx context.Context, products domain.ProductRepository) error {
	for _, product := range domain.DemoProducts() {
		if err := products.Upsert(ctx, product); err != nil {
			return fmt.Errorf("upsert demo product %d: %w", product.ID, err)
		}
	}
	return nil
}

func printReport(out io.Writer, states []productState) {
	_, _ = fmt.Fprintf(out, "%-10s %10s %10s %10s %8s %8s\n", "product", "db_stock", "counter", "pending", "drift", "action")
	for _, s := range states {
		counter := "unseeded"
		if s.Seeded {
			counter = strconv.FormatInt(s.Available, 10)
		}
		_, _ = fmt.Fprintf(out, "%-10d %10d %10s %10d %8d %8s\n", s.ProductID, s.Stock, counter, s.Pending, s.Drift(), s.Action)
	}
}

func openProducts(ctx context.Context, cfg app.Config) (domain.ProductRepository, func() error, error) {
	switch cfg.StorageDriver {
	case app.StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxOpenConns: 4})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.NewProductRepository(store), store.Close, nil
	case app.StorageDriverMySQL:
		store, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		return mysql.NewProductRepository(store), store.Close, nil
	default:
		return nil, nil, fmt.Errorf("ledger-sync needs durable storage, got storage driver %q", cfg.StorageDriver)
	}
}

func main() {
	for _, warning := range app.SetupLogger(log.StandardLogger(), os.LookupEnv) {
		log.Warn(warning)
	}
	logger := log.WithField("component", "ledger-sync")

	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.WithError(err).Fatal("invalid arguments")
	}

	cfg, err := app.LoadConfig(opts.configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	cfg, warnings := app.ApplyEnv(cfg, os.LookupEnv)
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	products, closeStore, err := openProducts(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}
	defer func() { _ = closeStore() }()

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()
	ledger := ledgerredis.NewLedger(client, ledgerredis.WithKeyPrefix(cfg.RedisKeyPrefix))
	if err := ledger.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("redis is not reachable")
	}

	if opts.demo && !opts.dryRun {
		if err := seedDemo(ctx, products); err != nil {
			logger.WithError(err).Fatal("failed to seed demo catalog")
		}
		logger.Info("demo catalog upserted")
	}

	states, err := syncLedger(ctx, products, ledger, opts, logger)
	printReport(os.Stdout, states)
	if err != nil {
		logger.WithError(err).Fatal("ledger sync failed")
	}
}

package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/flashorder/internal/health"
)

func testLogger(name string) *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("test", name)
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("memory"))
	require.NoError(t, err)
	defer deps.Close(testLogger("memory"))

	require.NotNil(t, deps.products)
	require.NotNil(t, deps.orders)
	require.NotNil(t, deps.outbox)
	require.NotNil(t, deps.ledger)
	require.Empty(t, deps.checkers)

	products, err := deps.products.List(context.Background())
	require.NoError(t, err)
	require.Len(t, products, len(domain.DemoProducts()))
}

func TestInitRuntimeDependencies_MemoryWithoutDemoCatalog(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SeedDemoCatalog = false
	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("memory-empty"))
	require.NoError(t, err)

	_, err = deps.products.Get(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestSeedCatalog_KeepsExistingProducts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SeedDemoCatalog = false
	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("seed"))
	require.NoError(t, err)

	ctx := context.Background()
	existing := domain.DemoProducts()[0]
	existing.Stock = 3
	require.NoError(t, deps.products.Upsert(ctx, existing))

	require.NoError(t, seedCatalog(ctx, deps.products, domain.DemoProducts()))

	got, err := deps.products.Get(ctx, existing.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.Stock)

	second, err := deps.products.Get(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 500, second.Stock)
}

func TestInitRuntimeDependencies_RedisLedger(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.LedgerDriver = LedgerDriverRedis
	cfg.RedisAddr = mr.Addr()

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("redis"))
	require.NoError(t, err)
	defer deps.Close(testLogger("redis"))

	require.Contains(t, deps.checkers, "redis")
	check := deps.checkers["redis"].Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status)

	seeded, err := deps.ledger.Seed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.True(t, seeded)
	require.NoError(t, deps.ledger.Reserve(context.Background(), 1, 4, "d-1"))

	snapshot, err := deps.ledger.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 6, snapshot.Available)
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.LedgerDriver = LedgerDriverRedis
	cfg.RedisAddr = addr

	_, err := initRuntimeDependencies(context.Background(), cfg, testLogger("redis-down"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "preload redis ledger scripts")
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, wantErr: "postgres dsn is required"},
		{name: "mysql without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverMySQL }, wantErr: "mysql dsn is required"},
		{name: "unsupported storage", mutate: func(c *Config) { c.StorageDriver = "sqlite" }, wantErr: "unsupported storage driver"},
		{name: "unsupported ledger", mutate: func(c *Config) { c.LedgerDriver = "etcd" }, wantErr: "unsupported ledger driver"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := initRuntimeDependencies(context.Background(), cfg, testLogger(tc.name))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRuntimeDependencies_CloseOrder(t *testing.T) {
	t.Parallel()

	var order []string
	deps := &runtimeDependencies{}
	deps.addCloser("storage", func() error { order = append(order, "storage"); return nil })
	deps.addCloser("redis", func() error { order = append(order, "redis"); return os.ErrClosed })

	deps.Close(testLogger("close"))
	deps.Close(testLogger("close"))

	require.Equal(t, []string{"redis", "storage"}, order)
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("FLASHORDER_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("FLASHORDER_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.LedgerDriver = LedgerDriverMemory

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("postgres"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.Close(testLogger("postgres"))

	require.Contains(t, deps.checkers, "postgres")
	check := deps.checkers["postgres"].Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status)
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashorder/internal/app"
	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	ledgerredis "github.com/vladislavdragonenkov/flashorder/internal/ledger/redis"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/memory"
)

type fixture struct {
	products domain.ProductRepository
	ledger   *ledgerredis.Ledger
	logger   *log.Entry
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	products := memory.NewProductRepository(memory.NewStore())
	require.NoError(t, seedDemo(context.Background(), products))

	return fixture{
		products: products,
		ledger:   ledgerredis.NewLedger(client, ledgerredis.WithKeyPrefix("test")),
		logger:   logger.WithField("test", "ledger-sync"),
	}
}

func TestSyncLedger_ResetsAllProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Seed(ctx, 1, 7)
	require.NoError(t, err)

	states, err := syncLedger(ctx, f.products, f.ledger, options{}, f.logger)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, int64(1), states[0].ProductID)
	require.Equal(t, actionReset, states[0].Action)
	require.EqualValues(t, -993, states[0].Drift())
	require.False(t, states[1].Seeded)

	for _, product := range domain.DemoProducts() {
		snapshot, err := f.ledger.Snapshot(ctx, product.ID)
		require.NoError(t, err)
		require.True(t, snapshot.Seeded)
		require.Equal(t, product.Stock, snapshot.Available)
	}
}

func TestSyncLedger_DryRunDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Seed(ctx, 2, 500)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Reserve(ctx, 2, 5, "d-1"))

	states, err := syncLedger(ctx, f.products, f.ledger, options{dryRun: true, productIDs: []int64{2}}, f.logger)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, actionNone, states[0].Action)
	require.EqualValues(t, 495, states[0].Available)
	require.EqualValues(t, 5, states[0].Pending)
	require.Zero(t, states[0].Drift())

	snapshot, err := f.ledger.Snapshot(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 495, snapshot.Available)
}

func TestSyncLedger_PendingRequiresForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Seed(ctx, 1, 1000)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Reserve(ctx, 1, 3, "d-1"))

	states, err := syncLedger(ctx, f.products, f.ledger, options{productIDs: []int64{1}}, f.logger)
	require.NoError(t, err)
	require.Equal(t, actionSkipped, states[0].Action)

	states, err = syncLedger(ctx, f.products, f.ledger, options{force: true, productIDs: []int64{1}}, f.logger)
	require.NoError(t, err)
	require.Equal(t, actionReset, states[0].Action)

	snapshot, err := f.ledger.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1000, snapshot.Available)
	require.Empty(t, snapshot.Pending)
}

func TestSyncLedger_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := syncLedger(context.Background(), f.products, f.ledger, options{productIDs: []int64{99}}, f.logger)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-dry-run", "-products", "1, 2"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.True(t, opts.dryRun)
	require.Equal(t, []int64{1, 2}, opts.productIDs)

	_, err = parseOptions([]string{"-products", "1,x"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "invalid product id")

	_, err = parseOptions([]string{"-products", "0"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, []productState{
		{ProductID: 1, Stock: 10, Seeded: true, Available: 8, Pending: 1, Action: actionReset},
		{ProductID: 2, Stock: 5, Action: actionNone},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "-1")
	require.Contains(t, lines[2], "unseeded")
}

func TestOpenProducts_RejectsMemory(t *testing.T) {
	_, _, err := openProducts(context.Background(), app.DefaultConfig())
	require.ErrorContains(t, err, "durable storage")
}

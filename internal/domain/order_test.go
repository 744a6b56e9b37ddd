package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// helper для создания pending-заказа на демо-товар.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	product := domain.Product{
		ID:    1,
		Name:  "Demo product A",
		Price: decimal.RequireFromString("19.99"),
		Stock: 1000,
	}
	return domain.NewPendingOrder("order-1", 7, product, 3, "deduction-1", now)
}

func TestNewPendingOrder_TotalPrice(t *testing.T) {
	order := makeOrder()

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if !order.TotalPrice.Equal(decimal.RequireFromString("59.97")) {
		t.Fatalf("expected total 59.97, got %s", order.TotalPrice)
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no user", mut: func(o *domain.Order) { o.UserID = 0 }, want: domain.ErrUserRequired},
		{name: "no product", mut: func(o *domain.Order) { o.ProductID = 0 }, want: domain.ErrProductRequired},
		{name: "zero quantity", mut: func(o *domain.Order) { o.Quantity = 0 }, want: domain.ErrQuantityInvalid},
		{name: "negative total", mut: func(o *domain.Order) { o.TotalPrice = decimal.NewFromInt(-1) }, want: domain.ErrPriceNegative},
		{name: "no deduction", mut: func(o *domain.Order) { o.DeductionID = "" }, want: domain.ErrDeductionIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			errs := order.ValidateInvariants()
			if len(errs) != 1 || !errors.Is(errs[0], tc.want) {
				t.Fatalf("expected [%v], got %v", tc.want, errs)
			}
		})
	}
}

func TestOrderStatus_Transitions(t *testing.T) {
	cases := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
		ok   bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusCompleted, true},
		{domain.OrderStatusPending, domain.OrderStatusFailed, true},
		{domain.OrderStatusPending, domain.OrderStatusPending, false},
		{domain.OrderStatusCompleted, domain.OrderStatusFailed, false},
		{domain.OrderStatusFailed, domain.OrderStatusCompleted, false},
		{domain.OrderStatusFailed, domain.OrderStatusPending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestOrder_TerminalStatusNeverChanges(t *testing.T) {
	now := time.Now().UTC()

	completed := makeOrder()
	if err := completed.Complete(now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := completed.Fail("late failure", now); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending, got %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.FailureReason != "" {
		t.Fatalf("completed order mutated: %+v", completed)
	}

	failed := makeOrder()
	if err := failed.Fail("product missing", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := failed.Complete(now); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending, got %v", err)
	}
	if failed.Status != domain.OrderStatusFailed || failed.FailureReason != "product missing" {
		t.Fatalf("failed order mutated: %+v", failed)
	}
}

func TestProductValidate(t *testing.T) {
	valid := domain.Product{ID: 1, Price: decimal.RequireFromString("29.99"), Stock: 500}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid product, got %v", err)
	}

	negativeStock := valid
	negativeStock.Stock = -1
	if err := negativeStock.Validate(); !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected ErrStockNegative, got %v", err)
	}

	negativePrice := valid
	negativePrice.Price = decimal.NewFromInt(-5)
	if err := negativePrice.Validate(); !errors.Is(err, domain.ErrPriceNegative) {
		t.Fatalf("expected ErrPriceNegative, got %v", err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	order := makeOrder()

	msg, err := domain.NewOrderEvent(domain.EventOrderAccepted, order)
	if err != nil {
		t.Fatalf("new order event: %v", err)
	}
	if msg.ID == "" || msg.AggregateID != "order-1" || msg.AggregateType != domain.AggregateOrder {
		t.Fatalf("unexpected outbox message: %+v", msg)
	}
	if len(msg.Payload) == 0 {
		t.Fatal("expected payload")
	}
}

func TestLedgerSnapshot_PendingTotal(t *testing.T) {
	snapshot := domain.LedgerSnapshot{Pending: map[string]int64{"a": 10, "b": 5}}
	if got := snapshot.PendingTotal(); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
}

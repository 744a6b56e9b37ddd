package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashorder/internal/version"
)

func okPing(context.Context) error { return nil }

var testBuild = version.Build{Version: "v1.0.0", Commit: "abc", Date: "today", GoVersion: "go1.24.0"}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return response
}

func TestHealthz_AllHealthy(t *testing.T) {
	handler := NewHandler(testBuild)
	handler.RegisterChecker("redis", NewPingChecker("redis", okPing))
	handler.RegisterChecker("postgres", NewPingChecker("postgres", okPing))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	response := decode(t, w)
	if response.Status != StatusHealthy || len(response.Checks) != 2 {
		t.Fatalf("unexpected response %+v", response)
	}
	if response.Build != testBuild {
		t.Fatalf("expected build %+v, got %+v", testBuild, response.Build)
	}
}

func TestHealthz_LedgerDownIsUnhealthy(t *testing.T) {
	handler := NewHandler(testBuild)
	handler.RegisterChecker("redis", NewPingChecker("redis", func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	response := decode(t, w)
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", response.Status)
	}
	if got := response.Checks["redis"].Message; got != "connection refused" {
		t.Fatalf("unexpected check message %q", got)
	}
}

func TestEvaluate_OptionalFailureDegrades(t *testing.T) {
	handler := NewHandler(testBuild)
	handler.RegisterChecker("redis", NewPingChecker("redis", okPing))
	handler.RegisterChecker("kafka", NewOptionalChecker("kafka", func(context.Context) error {
		return errors.New("broker unreachable")
	}))

	if status := handler.Evaluate(context.Background()).Status; status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status)
	}

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ready" {
		t.Fatalf("degraded service must stay ready, got %d %q", w.Code, w.Body.String())
	}
}

func TestEvaluate_RunsChecksConcurrently(t *testing.T) {
	handler := NewHandler(testBuild)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(3)
	for _, name := range []string{"redis", "postgres", "mysql"} {
		handler.RegisterChecker(name, NewPingChecker(name, func(ctx context.Context) error {
			started.Done()
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}

	go func() {
		started.Wait()
		close(release)
	}()

	response := handler.Evaluate(context.Background())
	if response.Status != StatusHealthy {
		t.Fatalf("all checks must finish once they run together, got %+v", response.Checks)
	}
}

func TestEvaluate_DeadlineApplies(t *testing.T) {
	handler := NewHandler(testBuild)
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	started := time.Now()
	response := handler.Evaluate(context.Background())
	if time.Since(started) > time.Second {
		t.Fatal("check ignored the deadline")
	}
	if response.Checks["slow"].Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", response.Checks["slow"].Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler(testBuild)
	handler.RegisterChecker("mysql", NewPingChecker("mysql", func(context.Context) error {
		return errors.New("too many connections")
	}))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "not ready" {
		t.Fatalf("unexpected readiness response %d %q", w.Code, w.Body.String())
	}
}

func TestBacklogChecker(t *testing.T) {
	size := 10
	checker := NewBacklogChecker("task-queue", func() int { return size }, 100)

	if check := checker.Check(context.Background()); check.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", check)
	}

	size = 101
	check := checker.Check(context.Background())
	if check.Status != StatusDegraded || check.Message != "backlog 101 exceeds 100" {
		t.Fatalf("expected degraded, got %+v", check)
	}

	if check := NewBacklogChecker("q", func() int { return 1 << 20 }, 0).Check(context.Background()); check.Status != StatusHealthy {
		t.Fatalf("zero limit disables the check, got %+v", check)
	}
}

func TestWatch_ReportsTransitions(t *testing.T) {
	handler := NewHandler(testBuild)
	var healthy atomic.Bool
	healthy.Store(true)
	handler.RegisterChecker("redis", NewPingChecker("redis", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}))

	var (
		mu      sync.Mutex
		reports []bool
	)
	snapshot := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), reports...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.Watch(ctx, 5*time.Millisecond, func(ready bool) {
			mu.Lock()
			reports = append(reports, ready)
			mu.Unlock()
		})
	}()

	waitFor(t, func() bool { return len(snapshot()) == 1 })
	healthy.Store(false)
	waitFor(t, func() bool { return len(snapshot()) == 2 })
	healthy.Store(true)
	waitFor(t, func() bool { return len(snapshot()) == 3 })

	cancel()
	<-done

	got := snapshot()
	if !got[0] || got[1] || !got[2] {
		t.Fatalf("unexpected transitions %v", got)
	}
}

func TestHandlerNames(t *testing.T) {
	handler := NewHandler(testBuild)
	handler.RegisterChecker("redis", NewPingChecker("redis", okPing))
	handler.RegisterChecker("kafka", NewOptionalChecker("kafka", okPing))

	names := handler.Names()
	if len(names) != 2 || names[0] != "kafka" || names[1] != "redis" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// Команда loadtest разыгрывает распродажу против HTTP API сервиса заказов:
// много пользователей одновременно заказывают один товар, отчёт показывает
// задержки, исходы и не было ли продано больше остатка.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	userIDHeader = "X-User-ID"
	codeError    = "error"
	codeTimeout  = "timeout"
)

type loadMode string

const (
	modeSubmit     loadMode = "submit"
	modeSubmitWait loadMode = "submit-wait"
)

type config struct {
	baseURL      string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	timeout      time.Duration
	mode         loadMode
	productID    int64
	quantity     int64
	userBase     int64
	pollInterval time.Duration
	waitTimeout  time.Duration
	expectStock  int64
	outputPath   string
}

func parseConfig(args []string, output io.Writer) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)

	cfg := config{}
	modeValue := fs.String("mode", string(modeSubmit), "load mode: submit | submit-wait")
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "order API base URL")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count (e.g. 30s)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "concurrent buyers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.Int64Var(&cfg.productID, "product", 1, "product id every buyer orders")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per order")
	fs.Int64Var(&cfg.userBase, "user-base", 1, "user id of the first buyer; buyer i is user-base+i")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", 200*time.Millisecond, "status poll interval (submit-wait)")
	fs.DurationVar(&cfg.waitTimeout, "wait-timeout", 90*time.Second, "max wait for completed/failed (submit-wait)")
	fs.Int64Var(&cfg.expectStock, "expect-stock", 0, "available units; the run fails if more were sold (0 disables)")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	mode, err := parseMode(*modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	return cfg, cfg.validate()
}

func (c config) validate() error {
	rules := []struct {
		broken bool
		msg    string
	}{
		{c.baseURL == "", "url is required"},
		{c.duration < 0, "duration must be >= 0"},
		{c.duration == 0 && c.total <= 0, "total must be > 0 when duration is not set"},
		{c.duration > 0 && c.totalSet && c.total <= 0, "total must be > 0 when explicitly set with duration"},
		{c.concurrency <= 0, "concurrency must be > 0"},
		{c.timeout <= 0, "timeout must be > 0"},
		{c.productID <= 0, "product must be > 0"},
		{c.quantity <= 0, "quantity must be > 0"},
		{c.userBase <= 0, "user-base must be > 0"},
		{c.expectStock < 0, "expect-stock must be >= 0"},
		{c.mode == modeSubmitWait && (c.pollInterval <= 0 || c.waitTimeout <= 0),
			"poll-interval and wait-timeout must be > 0 in submit-wait mode"},
	}
	for _, rule := range rules {
		if rule.broken {
			return errors.New(rule.msg)
		}
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	if mode != modeSubmit && mode != modeSubmitWait {
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
	return mode, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return
	case err != nil:
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	transport := &http.Transport{MaxIdleConns: cfg.concurrency, MaxIdleConnsPerHost: cfg.concurrency}
	result := run(&http.Client{Transport: transport}, cfg)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 || result.Oversold {
		os.Exit(1)
	}
}

// run раздаёт сценарии cfg.concurrency покупателям и собирает отчёт.
func run(client *http.Client, cfg config) report {
	startedAt := time.Now()
	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				if runScenario(client, cfg, index, col) != nil {
					failures.Add(1)
				}
			}
		}()
	}
	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if n := failures.Load(); result.FailedScenarios < n {
		result.FailedScenarios = n
		result.ErrorRate = ratio(n, result.TotalScenarios)
	}
	checkStock(&result, cfg)
	return result
}

// dispatchJobs выдаёт номера сценариев до cfg.total или до истечения cfg.duration.
// В режиме по времени без явного -total число сценариев не ограничено.
func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	var expired <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		expired = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !bounded || i < cfg.total; i++ {
		select {
		case <-expired:
			return
		case jobs <- i:
		}
	}
}


type acceptedResponse struct {
	OrderPublicID string `json:"order_public_id"`
	Status        string `json:"status"`
}

type orderResponse struct {
	Status       string `json:"status"`
	FailedReason string `json:"failed_reason"`
}

// runScenario размещает заказ и в режиме submit-wait ждёт его финального статуса.
// Отказ по остатку (400): ожидаемый исход распродажи, а не ошибка сценария.
func runScenario(client *http.Client, cfg config, index int, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := "accepted"
	scenarioOK := true
	defer func() {
		col.record(scenarioSeries, time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()

	userID := cfg.userBase + int64(index)
	accepted, code, err := callPlaceOrder(client, cfg, userID, col)
	if err != nil {
		scenarioCode, scenarioOK = code, false
		return err
	}
	if code == strconv.Itoa(http.StatusBadRequest) {
		scenarioCode = "sold_out"
		return nil
	}
	if cfg.mode == modeSubmit {
		return nil
	}

	status, err := waitTerminal(client, cfg, userID, accepted.OrderPublicID, col)
	if err != nil {
		scenarioCode, scenarioOK = codeTimeout, false
		return err
	}
	scenarioCode = status
	return nil
}

func callPlaceOrder(client *http.Client, cfg config, userID int64, col *collector) (acceptedResponse, string, error) {
	body, err := json.Marshal(map[string]int64{"product_id": cfg.productID, "quantity": cfg.quantity})
	if err != nil {
		return acceptedResponse{}, codeError, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return acceptedResponse{}, codeError, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))

	var accepted acceptedResponse
	code, err := doJSON(client, req, &accepted)
	ok := err == nil && (code == http.StatusAccepted || code == http.StatusBadRequest)
	col.record("PlaceOrder", time.Since(start), codeString(code, err), ok)
	if err != nil {
		return acceptedResponse{}, codeString(code, err), err
	}
	if !ok {
		return acceptedResponse{}, codeString(code, nil), fmt.Errorf("place order: unexpected status %d", code)
	}
	if code == http.StatusAccepted && accepted.OrderPublicID == "" {
		return acceptedResponse{}, codeError, errors.New("place order response returned empty order id")
	}
	return accepted, codeString(code, nil), nil
}

func waitTerminal(client *http.Client, cfg config, userID int64, publicID string, col *collector) (string, error) {
	deadline := time.Now().Add(cfg.waitTimeout)
	for {
		status, err := callGetOrder(client, cfg, userID, publicID, col)
		if err == nil && (status == "completed" || status == "failed") {
			return status, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("order %s did not reach terminal status within %s", publicID, cfg.waitTimeout)
		}
		time.Sleep(cfg.pollInterval)
	}
}

func callGetOrder(client *http.Client, cfg config, userID int64, publicID string, col *collector) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.baseURL+"/api/orders/"+publicID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))

	var order orderResponse
	code, err := doJSON(client, req, &order)
	ok := err == nil && code == http.StatusOK
	col.record("GetOrder", time.Since(start), codeString(code, err), ok)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("get order: unexpected status %d", code)
	}
	return order.Status, nil
}

func doJSON(client *http.Client, req *http.Request, out any) (int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func codeString(code int, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return codeTimeout
		}
		return codeError
	}
	return strconv.Itoa(code)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// scenarioSeries: имя серии, в которую пишется итог сценария целиком.
const scenarioSeries = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	// SoldUnits: единицы товара, удержанные принятыми заказами (submit) или
	// списанные завершёнными (submit-wait).
	SoldUnits int64 `json:"sold_units"`
	Oversold  bool  `json:"oversold,omitempty"`
}

// series накапливает вызовы одного метода.
type series struct {
	ok, bad int64
	codes   map[string]int64
	samples []float64
}

func (s *series) add(latency time.Duration, code string, ok bool) {
	if ok {
		s.ok++
	} else {
		s.bad++
	}
	s.codes[code]++
	s.samples = append(s.samples, float64(latency.Microseconds())/1000.0)
}

func (s *series) summary() methodReport {
	calls := s.ok + s.bad
	return methodReport{
		Calls:     calls,
		Success:   s.ok,
		Failed:    s.bad,
		ErrorRate: ratio(s.bad, calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: buildLatencySummary(s.samples),
	}
}

type collector struct {
	mu     sync.Mutex
	series map[string]*series
}

func newCollector() *collector {
	return &collector{series: make(map[string]*series)}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[method]
	if s == nil {
		s = &series{codes: make(map[string]int64)}
		c.series[method] = s
	}
	s.add(latency, code, ok)
}

func (c *collector) snapshot(method string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[method]
	if !ok {
		return methodReport{}, false
	}
	return s.summary(), true
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	methods := make(map[string]methodReport, len(c.series))
	for name, s := range c.series {
		methods[name] = s.summary()
	}
	c.mu.Unlock()

	scenario := methods[scenarioSeries]
	result := report{
		StartedAt:         startedAt.UTC(),
		DurationSeconds:   elapsed.Seconds(),
		TotalScenarios:    scenario.Calls,
		SuccessScenarios:  scenario.Success,
		FailedScenarios:   scenario.Failed,
		ErrorRate:         scenario.ErrorRate,
		ScenarioLatencyMs: scenario.LatencyMs,
		Methods:           methods,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		result.RPS = float64(result.TotalScenarios) / secs
	}
	return result
}

// checkStock считает проданные единицы и сверяет их с ожидаемым остатком.
// В режиме submit-wait неуспешные заказы уже вернули резерв, поэтому
// учитываются только completed.
func checkStock(result *report, cfg config) {
	outcomes := result.Methods[scenarioSeries].Codes
	held := outcomes["accepted"]
	if cfg.mode == modeSubmitWait {
		held = outcomes["completed"]
	}
	result.SoldUnits = held * cfg.quantity
	result.Oversold = cfg.expectStock > 0 && result.SoldUnits > cfg.expectStock
}

// buildLatencySummary использует перцентили по ближайшему рангу.
func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	rank := func(p float64) float64 {
		idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
		return sorted[min(max(idx, 0), len(sorted)-1)]
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: rank(50),
		P95: rank(95),
		P99: rank(99),
	}
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func formatCodes(codes map[string]int64) string {
	parts := make([]string, 0, len(codes))
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		parts = append(parts, fmt.Sprintf("%s=%d", code, codes[code]))
	}
	return strings.Join(parts, ",")
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func printReport(out io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(out, "Load test summary\n"+
		"mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n"+
		"duration=%.2fs rps=%.2f\n"+
		"scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate,
		result.DurationSeconds, result.RPS,
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max,
	)
	if scenario, ok := result.Methods[scenarioSeries]; ok {
		_, _ = fmt.Fprintf(out, "outcomes: %s\n", formatCodes(scenario.Codes))
	}
	if cfg.expectStock > 0 {
		verdict := "ok"
		if result.Oversold {
			verdict = "OVERSOLD"
		}
		_, _ = fmt.Fprintf(out, "stock: sold=%d expected<=%d %s\n", result.SoldUnits, cfg.expectStock, verdict)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "method\tcalls\tsuccess\tfailed\terror_rate\tp95_ms\tcodes")
	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == scenarioSeries {
			continue
		}
		m := result.Methods[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.2f\t%s\n",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95, formatCodes(m.Codes))
	}
	_ = tw.Flush()
}

func writeJSONReport(path string, result report) error {
	target := filepath.Clean(path)
	switch {
	case target == "." || target == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case !filepath.IsLocal(target) && !filepath.IsAbs(target):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- отчёт нагрузочного теста не содержит секретов.
	return os.WriteFile(target, append(body, '\n'), 0o644)
}

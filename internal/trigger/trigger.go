// Package trigger implements an optional Prometheus-gated abort switch:
// a background poll of one query/threshold pair that, once tripped,
// signals the supervisor to stop dispatching new seeds and drain —
// exactly like an operator's Ctrl-C. Adapted from the teacher's
// pkg/monitoring/prometheus (the Client query wrapper) and
// pkg/monitoring/detector/failure_detector.go's threshold-expression
// evaluator, narrowed from a multi-criterion chaos-experiment success
// checker down to the single query rollstats actually needs.
package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/jihwankim/rollstats/internal/config"
)

// Watcher polls one Prometheus query on an interval and reports whether
// its value has crossed Threshold.
type Watcher struct {
	api       v1.API
	timeout   time.Duration
	query     string
	threshold string
}

// New builds a Watcher against cfg. query is the PromQL instant-query
// expression to evaluate; threshold is one of the teacher's supported
// expressions ("> 0", "<= 100", "== 0", ...).
func New(cfg config.PrometheusConfig, query, threshold string) (*Watcher, error) {
	apiClient, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("trigger: create prometheus client: %w", err)
	}
	return &Watcher{
		api:       v1.NewAPI(apiClient),
		timeout:   cfg.Timeout,
		query:     query,
		threshold: threshold,
	}, nil
}

// Watch polls every interval until ctx is cancelled, sending once on the
// returned channel the first time the query's value crosses Threshold,
// then closing it. A query error is treated as "not tripped" for that
// tick, not a fatal condition — a transient Prometheus outage should
// never itself abort a roll.
func (w *Watcher) Watch(ctx context.Context, interval time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tripped, err := w.poll(ctx)
				if err != nil {
					continue
				}
				if tripped {
					out <- struct{}{}
					return
				}
			}
		}
	}()
	return out
}

func (w *Watcher) poll(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result, warnings, err := w.api.Query(ctx, w.query, time.Now())
	if err != nil {
		return false, fmt.Errorf("trigger: query: %w", err)
	}
	_ = warnings

	value, ok := firstSampleValue(result)
	if !ok {
		return false, nil
	}
	return evaluateThreshold(value, w.threshold)
}

func firstSampleValue(v model.Value) (float64, bool) {
	switch v := v.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, false
		}
		return float64(v[0].Value), true
	case *model.Scalar:
		return float64(v.Value), true
	default:
		return 0, false
	}
}

// evaluateThreshold supports the same operator set as the teacher's
// failure detector: >, <, >=, <=, ==, !=.
func evaluateThreshold(value float64, threshold string) (bool, error) {
	threshold = strings.TrimSpace(threshold)

	var operator string
	var rest string
	switch {
	case strings.HasPrefix(threshold, ">="), strings.HasPrefix(threshold, "<="),
		strings.HasPrefix(threshold, "!="), strings.HasPrefix(threshold, "=="):
		operator, rest = threshold[:2], threshold[2:]
	case strings.HasPrefix(threshold, ">"), strings.HasPrefix(threshold, "<"):
		operator, rest = threshold[:1], threshold[1:]
	default:
		return false, fmt.Errorf("trigger: invalid threshold format: %q", threshold)
	}

	thresholdValue, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return false, fmt.Errorf("trigger: invalid threshold value: %q", threshold)
	}

	switch operator {
	case ">":
		return value > thresholdValue, nil
	case "<":
		return value < thresholdValue, nil
	case ">=":
		return value >= thresholdValue, nil
	case "<=":
		return value <= thresholdValue, nil
	case "==":
		return value == thresholdValue, nil
	case "!=":
		return value != thresholdValue, nil
	default:
		return false, fmt.Errorf("trigger: unknown operator %q", operator)
	}
}

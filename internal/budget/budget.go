package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

// Alert describes a provider whose monthly spend crossed a threshold.
type Alert struct {
	Provider   string
	Level      AlertLevel
	LimitUSD   float64
	SpendUSD   float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(alert Alert)

// SpendReader reports accumulated spend per provider since a point in time.
type SpendReader interface {
	SpendByProvider(ctx context.Context, since time.Time) (map[string]float64, error)
}

// Limits holds monthly spend limits in USD. A zero or missing limit
// means the provider is not monitored.
type Limits struct {
	PerProvider map[string]float64
	Default     float64
}

func (l Limits) limitFor(provider string) float64 {
	if limit, ok := l.PerProvider[provider]; ok {
		return limit
	}
	return l.Default
}

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Monitor periodically compares provider spend against configured limits
// and dispatches alerts on threshold crossings. Deduplication keeps a
// sustained overspend from alerting on every check.
type Monitor struct {
	mu         sync.RWMutex
	reader     SpendReader
	limits     Limits
	thresholds Thresholds
	dedup      AlertDeduplicator
	handlers   []AlertHandler
}

func NewMonitor(reader SpendReader, limits Limits, thresholds Thresholds, dedup AlertDeduplicator) *Monitor {
	if dedup == nil {
		dedup = NewInMemoryDeduplicator()
	}
	return &Monitor{
		reader:     reader,
		limits:     limits,
		thresholds: thresholds,
		dedup:      dedup,
		handlers:   make([]AlertHandler, 0),
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Check evaluates every monitored provider once and returns the alerts
// that were dispatched.
func (m *Monitor) Check(ctx context.Context) ([]Alert, error) {
	spend, err := m.reader.SpendByProvider(ctx, startOfMonth(time.Now().UTC()))
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for provider, spent := range spend {
		limit := m.limits.limitFor(provider)
		if limit <= 0 {
			continue
		}

		percentage := spent / limit

		var level AlertLevel
		switch {
		case percentage >= 1.0:
			level = AlertLevelExceeded
		case percentage >= m.thresholds.Critical:
			level = AlertLevelCritical
		case percentage >= m.thresholds.Warning:
			level = AlertLevelWarning
		default:
			m.dedup.ClearAlert(ctx, provider)
			continue
		}

		if !m.dedup.ShouldAlert(ctx, provider, level) {
			continue
		}

		alert := Alert{
			Provider:   provider,
			Level:      level,
			LimitUSD:   limit,
			SpendUSD:   spent,
			Percentage: percentage * 100,
			Timestamp:  time.Now(),
		}
		alerts = append(alerts, alert)
		m.dispatch(alert)
	}

	return alerts, nil
}

// IsExceeded reports whether a provider's monthly spend reached its limit.
// Unmonitored providers are never exceeded.
func (m *Monitor) IsExceeded(ctx context.Context, provider string) (bool, error) {
	limit := m.limits.limitFor(provider)
	if limit <= 0 {
		return false, nil
	}

	spend, err := m.reader.SpendByProvider(ctx, startOfMonth(time.Now().UTC()))
	if err != nil {
		return false, err
	}

	return spend[provider] >= limit, nil
}

// Run checks spend on the given interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				slog.Error("spend check failed", "error", err)
			}
		}
	}
}

func (m *Monitor) dispatch(alert Alert) {
	m.mu.RLock()
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(alert)
	}
}

func startOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func LogAlertHandler(alert Alert) {
	slog.Warn("provider spend alert",
		"provider", alert.Provider,
		"level", alert.Level,
		"limit_usd", alert.LimitUSD,
		"spend_usd", alert.SpendUSD,
		"percentage", alert.Percentage,
	)
}

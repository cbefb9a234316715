package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubSpendReader struct {
	mu    sync.Mutex
	spend map[string]float64
	err   error
}

func (s *stubSpendReader) SpendByProvider(ctx context.Context, since time.Time) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]float64, len(s.spend))
	for k, v := range s.spend {
		out[k] = v
	}
	return out, nil
}

func (s *stubSpendReader) set(provider string, spend float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spend[provider] = spend
}

func newMonitor(spend map[string]float64, limits Limits) (*Monitor, *stubSpendReader) {
	reader := &stubSpendReader{spend: spend}
	return NewMonitor(reader, limits, DefaultThresholds(), nil), reader
}

func TestCheckBelowWarningNoAlert(t *testing.T) {
	m, _ := newMonitor(
		map[string]float64{"openai": 10.0},
		Limits{Default: 100.0},
	)

	alerts, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestCheckAlertLevels(t *testing.T) {
	tests := []struct {
		name  string
		spend float64
		level AlertLevel
	}{
		{"warning at 80 percent", 80.0, AlertLevelWarning},
		{"critical at 95 percent", 95.0, AlertLevelCritical},
		{"exceeded at limit", 100.0, AlertLevelExceeded},
		{"exceeded above limit", 150.0, AlertLevelExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMonitor(
				map[string]float64{"openai": tt.spend},
				Limits{Default: 100.0},
			)

			alerts, err := m.Check(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(alerts) != 1 {
				t.Fatalf("expected 1 alert, got %d", len(alerts))
			}
			if alerts[0].Level != tt.level {
				t.Errorf("level = %s, want %s", alerts[0].Level, tt.level)
			}
			if alerts[0].Provider != "openai" {
				t.Errorf("provider = %s, want openai", alerts[0].Provider)
			}
		})
	}
}

func TestCheckDeduplicatesSameLevel(t *testing.T) {
	m, _ := newMonitor(
		map[string]float64{"anthropic": 85.0},
		Limits{Default: 100.0},
	)

	first, _ := m.Check(context.Background())
	second, _ := m.Check(context.Background())

	if len(first) != 1 {
		t.Fatalf("first check: expected 1 alert, got %d", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("second check: expected 0 alerts, got %d", len(second))
	}
}

func TestCheckEscalatesLevel(t *testing.T) {
	m, reader := newMonitor(
		map[string]float64{"anthropic": 85.0},
		Limits{Default: 100.0},
	)

	if alerts, _ := m.Check(context.Background()); len(alerts) != 1 || alerts[0].Level != AlertLevelWarning {
		t.Fatalf("expected warning alert, got %+v", alerts)
	}

	reader.set("anthropic", 105.0)

	alerts, _ := m.Check(context.Background())
	if len(alerts) != 1 || alerts[0].Level != AlertLevelExceeded {
		t.Fatalf("expected exceeded alert after escalation, got %+v", alerts)
	}
}

func TestCheckClearsWhenSpendDrops(t *testing.T) {
	m, reader := newMonitor(
		map[string]float64{"openai": 90.0},
		Limits{Default: 100.0},
	)

	m.Check(context.Background())

	// New month, counter reset.
	reader.set("openai", 5.0)
	m.Check(context.Background())

	reader.set("openai", 90.0)
	alerts, _ := m.Check(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("expected re-alert after clear, got %d", len(alerts))
	}
}

func TestPerProviderLimits(t *testing.T) {
	m, _ := newMonitor(
		map[string]float64{"openai": 50.0, "ollama": 50.0},
		Limits{
			PerProvider: map[string]float64{"openai": 40.0, "ollama": 0},
			Default:     1000.0,
		},
	)

	alerts, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Provider != "openai" {
		t.Errorf("provider = %s, want openai", alerts[0].Provider)
	}
	if alerts[0].Level != AlertLevelExceeded {
		t.Errorf("level = %s, want exceeded", alerts[0].Level)
	}
}

func TestIsExceeded(t *testing.T) {
	m, _ := newMonitor(
		map[string]float64{"openai": 120.0, "anthropic": 20.0},
		Limits{Default: 100.0},
	)

	exceeded, err := m.IsExceeded(context.Background(), "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exceeded {
		t.Error("expected openai to be exceeded")
	}

	exceeded, _ = m.IsExceeded(context.Background(), "anthropic")
	if exceeded {
		t.Error("expected anthropic not to be exceeded")
	}
}

func TestIsExceededUnmonitoredProvider(t *testing.T) {
	m, _ := newMonitor(
		map[string]float64{"ollama": 9999.0},
		Limits{PerProvider: map[string]float64{"ollama": 0}},
	)

	exceeded, err := m.IsExceeded(context.Background(), "ollama")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exceeded {
		t.Error("provider without a limit must never be exceeded")
	}
}

func TestCheckPropagatesReaderError(t *testing.T) {
	reader := &stubSpendReader{err: errors.New("db down")}
	m := NewMonitor(reader, Limits{Default: 100.0}, DefaultThresholds(), nil)

	if _, err := m.Check(context.Background()); err == nil {
		t.Fatal("expected error from spend reader")
	}
}

func TestOnAlertHandlerInvoked(t *testing.T) {
	m, _ := newMonitor(
		map[string]float64{"openai": 99.0},
		Limits{Default: 100.0},
	)

	var got []Alert
	var mu sync.Mutex
	m.OnAlert(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
	})

	m.Check(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected handler to fire once, got %d", len(got))
	}
	if got[0].Level != AlertLevelCritical {
		t.Errorf("level = %s, want critical", got[0].Level)
	}
}

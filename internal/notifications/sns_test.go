package notifications

import (
	"testing"

	"github.com/felipepmaragno/modelrouter/internal/budget"
	"github.com/felipepmaragno/modelrouter/internal/circuitbreaker"
)

func TestBreakerStateChangeOpenPublishesProviderDown(t *testing.T) {
	notifier := NewInMemoryNotifier()
	fn := BreakerStateChange(notifier)

	fn("openai", circuitbreaker.StateClosed, circuitbreaker.StateOpen)

	got := notifier.GetNotifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Type != NotificationProviderDown {
		t.Errorf("type = %s, want %s", got[0].Type, NotificationProviderDown)
	}
	if got[0].Provider != "openai" {
		t.Errorf("provider = %s, want openai", got[0].Provider)
	}
}

func TestBreakerStateChangeRecoveryPublishesProviderUp(t *testing.T) {
	notifier := NewInMemoryNotifier()
	fn := BreakerStateChange(notifier)

	fn("anthropic", circuitbreaker.StateHalfOpen, circuitbreaker.StateClosed)

	got := notifier.GetNotifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Type != NotificationProviderUp {
		t.Errorf("type = %s, want %s", got[0].Type, NotificationProviderUp)
	}
}

func TestBreakerStateChangeHalfOpenSilent(t *testing.T) {
	notifier := NewInMemoryNotifier()
	fn := BreakerStateChange(notifier)

	fn("openai", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen)

	if got := notifier.GetNotifications(); len(got) != 0 {
		t.Fatalf("half-open transition should not notify, got %d", len(got))
	}
}

func TestSpendAlertHandlerMapsLevels(t *testing.T) {
	notifier := NewInMemoryNotifier()
	handler := SpendAlertHandler(notifier)

	handler(budget.Alert{
		Provider: "openai",
		Level:    budget.AlertLevelExceeded,
		LimitUSD: 100,
		SpendUSD: 120,
	})

	got := notifier.GetNotifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Type != NotificationSpendExceeded {
		t.Errorf("type = %s, want %s", got[0].Type, NotificationSpendExceeded)
	}
	if got[0].Data["limit_usd"] != 100.0 {
		t.Errorf("limit_usd = %v, want 100", got[0].Data["limit_usd"])
	}
}

package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/felipepmaragno/modelrouter/internal/budget"
	"github.com/felipepmaragno/modelrouter/internal/circuitbreaker"
)

const notifyTimeout = 10 * time.Second

type NotificationType string

const (
	NotificationSpendWarning  NotificationType = "spend_warning"
	NotificationSpendCritical NotificationType = "spend_critical"
	NotificationSpendExceeded NotificationType = "spend_exceeded"
	NotificationProviderDown  NotificationType = "provider_down"
	NotificationProviderUp    NotificationType = "provider_up"
)

type Notification struct {
	Type     NotificationType       `json:"type"`
	Provider string                 `json:"provider,omitempty"`
	Message  string                 `json:"message"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
	Subscribe(ctx context.Context, topicArn, protocol, endpoint string) error
}

type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	}

	if notification.Provider != "" {
		input.MessageAttributes["Provider"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.Provider),
		}
	}

	_, err = n.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent",
		"type", notification.Type,
		"provider", notification.Provider,
	)

	return nil
}

func (n *SNSNotifier) Subscribe(ctx context.Context, topicArn, protocol, endpoint string) error {
	input := &sns.SubscribeInput{
		TopicArn: aws.String(topicArn),
		Protocol: aws.String(protocol),
		Endpoint: aws.String(endpoint),
	}

	_, err := n.client.Subscribe(ctx, input)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	return nil
}

// SpendAlertHandler adapts a Notifier into a budget.AlertHandler.
func SpendAlertHandler(notifier Notifier) budget.AlertHandler {
	levels := map[budget.AlertLevel]NotificationType{
		budget.AlertLevelWarning:  NotificationSpendWarning,
		budget.AlertLevelCritical: NotificationSpendCritical,
		budget.AlertLevelExceeded: NotificationSpendExceeded,
	}

	return func(alert budget.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		err := notifier.Send(ctx, Notification{
			Type:     levels[alert.Level],
			Provider: alert.Provider,
			Message: fmt.Sprintf("provider %s spent $%.2f of its $%.2f monthly limit",
				alert.Provider, alert.SpendUSD, alert.LimitUSD),
			Data: map[string]interface{}{
				"spend_usd":  alert.SpendUSD,
				"limit_usd":  alert.LimitUSD,
				"percentage": alert.Percentage,
			},
		})
		if err != nil {
			slog.Error("failed to send spend alert", "provider", alert.Provider, "error", err)
		}
	}
}

// BreakerStateChange adapts a Notifier into a circuit breaker transition
// observer. Opening a breaker publishes provider_down; returning to
// closed publishes provider_up. Half-open probes are not announced.
func BreakerStateChange(notifier Notifier) circuitbreaker.StateChangeFunc {
	return func(provider string, from, to circuitbreaker.State) {
		var n Notification
		switch {
		case to == circuitbreaker.StateOpen:
			n = Notification{
				Type:     NotificationProviderDown,
				Provider: provider,
				Message:  fmt.Sprintf("circuit breaker opened for provider %s", provider),
			}
		case to == circuitbreaker.StateClosed && from != circuitbreaker.StateClosed:
			n = Notification{
				Type:     NotificationProviderUp,
				Provider: provider,
				Message:  fmt.Sprintf("provider %s recovered", provider),
			}
		default:
			return
		}

		n.Data = map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := notifier.Send(ctx, n); err != nil {
			slog.Error("failed to send breaker notification", "provider", provider, "error", err)
		}
	}
}

type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	handlers      []func(Notification)
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{
		notifications: make([]Notification, 0),
		handlers:      make([]func(Notification), 0),
	}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)

	for _, handler := range n.handlers {
		handler(notification)
	}

	slog.Info("notification sent (in-memory)",
		"type", notification.Type,
		"provider", notification.Provider,
	)

	return nil
}

func (n *InMemoryNotifier) Subscribe(ctx context.Context, topicArn, protocol, endpoint string) error {
	return nil
}

func (n *InMemoryNotifier) OnNotification(handler func(Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

func (n *InMemoryNotifier) GetNotifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}

func (n *InMemoryNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = make([]Notification, 0)
}

package gateway

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
)

// WebhookNotifier posts notifications as JSON to a fixed URL.
type WebhookNotifier struct {
	client *Client
}

// NewWebhookNotifier creates a notifier posting to hookURL. Delivery is
// attempted once; notifications are best effort.
func NewWebhookNotifier(hookURL string, opts ...ClientOption) *WebhookNotifier {
	return &WebhookNotifier{client: NewClient(hookURL, opts...)}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, userID string, msg domain.Notification) error {
	msg.UserID = userID
	return n.client.do(ctx, http.MethodPost, "", nil, msg, nil, nil, false)
}

// LogNotifier writes notifications to the log. Used when no hook is set.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, userID string, msg domain.Notification) error {
	n.log.Info(string(msg.Kind),
		zap.String("user_id", userID),
		zap.String("position_id", msg.PositionID),
		zap.String("request_id", msg.RequestID),
		zap.String("pair", msg.Pair),
		zap.String("message", msg.Message),
	)
	return nil
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)

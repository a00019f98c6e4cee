package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// orderWebhookNotifier posts settled orders to an external webhook.
type orderWebhookNotifier struct {
	webhookURL string
	client     *resty.Client
}

func newOrderWebhookNotifier(webhookURL string) *orderWebhookNotifier {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil
	}

	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &orderWebhookNotifier{webhookURL: webhookURL, client: client}
}

func (n *orderWebhookNotifier) enabled() bool {
	return n != nil && n.webhookURL != ""
}

func (n *orderWebhookNotifier) notifyOrderSettled(ctx context.Context, order Order) (bool, error) {
	if !n.enabled() {
		return false, nil
	}

	payload := map[string]any{
		"event":  "checkout_order_settled",
		"sentAt": time.Now().UTC().Format(time.RFC3339),
		"order": map[string]any{
			"orderId":    order.ID.String(),
			"customerId": order.CustomerID,
			"ident":      order.Ident,
			"state":      order.State,
			"traceId":    order.TraceID,
			"errorCode":  order.ErrorCode,
			"updatedAt":  order.UpdatedAt.Format(time.RFC3339),
		},
	}

	response, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.webhookURL)
	if err != nil {
		return false, err
	}
	if response.IsError() {
		body := strings.TrimSpace(response.String())
		if len(body) > 1024 {
			body = body[:1024]
		}
		return false, fmt.Errorf("webhook status=%d body=%s", response.StatusCode(), body)
	}
	return true, nil
}

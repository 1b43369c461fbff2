// Package notify delivers terminal job outcomes to caller-supplied
// callback addresses. Delivery is best-effort and attempted exactly once;
// the job record, not the callback, is the source of truth.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/studioforge/genrunner/internal/runner/domain"
	"github.com/studioforge/genrunner/shared/rabbitmq"
)

// Payload is the terminal outcome delivered to the callback.
type Payload struct {
	JobID   string          `json:"job_id"`
	Status  string          `json:"status"`
	Result  *domain.Result  `json:"result,omitempty"`
	Failure *domain.Failure `json:"failure,omitempty"`
}

// amqpPrefix selects the AMQP transport: "amqp:<routing-key>".
const amqpPrefix = "amqp:"

// Notifier posts payloads over HTTP or publishes them to RabbitMQ,
// depending on the address scheme.
type Notifier struct {
	client *http.Client
	rabbit *rabbitmq.Client
	logger *slog.Logger
}

// New creates a notifier. rabbit may be nil; amqp addresses are then
// logged and skipped.
func New(timeout time.Duration, rabbit *rabbitmq.Client, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		rabbit: rabbit,
		logger: logger,
	}
}

// Deliver attempts delivery once. Failures are logged, never returned:
// nothing the callback does may alter the job's terminal status.
func (n *Notifier) Deliver(ctx context.Context, address string, payload Payload) {
	address = strings.TrimSpace(address)
	if address == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to encode callback payload",
			slog.String("job_id", payload.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	switch {
	case strings.HasPrefix(address, amqpPrefix):
		n.deliverAMQP(ctx, strings.TrimPrefix(address, amqpPrefix), payload.JobID, body)
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		n.deliverHTTP(ctx, address, payload.JobID, body)
	default:
		n.logger.Warn("Unsupported callback address scheme, skipping",
			slog.String("job_id", payload.JobID),
			slog.String("address", address),
		)
	}
}

func (n *Notifier) deliverHTTP(ctx context.Context, url, jobID string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("Failed to build callback request",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("Callback delivery failed",
			slog.String("job_id", jobID),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("Callback responded with non-success status",
			slog.String("job_id", jobID),
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
		)
		return
	}

	n.logger.Info("Callback delivered",
		slog.String("job_id", jobID),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
	)
}

func (n *Notifier) deliverAMQP(ctx context.Context, routingKey, jobID string, body []byte) {
	if n.rabbit == nil {
		n.logger.Warn("AMQP callback requested but RabbitMQ is not configured, skipping",
			slog.String("job_id", jobID),
			slog.String("routing_key", routingKey),
		)
		return
	}

	if err := n.rabbit.PublishTo(ctx, routingKey, body, "application/json"); err != nil {
		n.logger.Warn("AMQP callback delivery failed",
			slog.String("job_id", jobID),
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
		return
	}

	n.logger.Info("Callback published",
		slog.String("job_id", jobID),
		slog.String("routing_key", routingKey),
	)
}

// Package events publishes gateway domain events, falling back to the outbox when the broker is unreachable.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "haper/contracts/mq"
	"haper/internal/model"
	"haper/pkg/logger"
	"haper/pkg/metrics"
	"haper/pkg/outbox"
)

// Broker publishes already-encoded events. *mq.Publisher satisfies it.
type Broker interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// Outbox stores events for later delivery. *outbox.Repository satisfies it.
type Outbox interface {
	Insert(ctx context.Context, event *outbox.Event) error
}

// Publisher never fails the caller's request because of event delivery.
type Publisher struct {
	broker Broker
	outbox Outbox
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher builds a publisher. broker and outbox may be nil; with neither, events are only logged.
func NewPublisher(broker Broker, ob Outbox, logger *zap.Logger) *Publisher {
	return &Publisher{broker: broker, outbox: ob, logger: logger, now: time.Now}
}

func (p *Publisher) AccountConnected(ctx context.Context, userEmail, provider, accountID, email string) {
	p.publish(ctx, "account", accountID, mqcontracts.RoutingAccountConnected, mqcontracts.AccountConnectedPayload{
		Provider:  provider,
		Email:     email,
		AccountID: accountID,
		UserEmail: userEmail,
		At:        p.now(),
	})
}

func (p *Publisher) ReportGenerated(ctx context.Context, userEmail string, r *model.Report) {
	p.publish(ctx, "report", r.ID, mqcontracts.RoutingReportGenerated, mqcontracts.ReportGeneratedPayload{
		ReportID:  r.ID,
		UserEmail: userEmail,
		Status:    string(r.Status),
		At:        p.now(),
	})
}

func (p *Publisher) BatchActionCompleted(ctx context.Context, reportID string, last model.BatchActionStatus) {
	p.publish(ctx, "report", reportID, mqcontracts.RoutingBatchActionCompleted, mqcontracts.BatchActionCompletedPayload{
		ReportID: reportID,
		Total:    last.Total,
		Succeed:  last.Succeed,
		Failed:   last.Failed,
		Status:   string(last.Status),
		At:       p.now(),
	})
}

func (p *Publisher) publish(ctx context.Context, aggregateType, aggregateID, routingKey string, payload any) {
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("routing_key", routingKey),
		zap.String("aggregate_id", aggregateID),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		metrics.IncrementEventPublish(routingKey, "error")
		log.Error("Failed to encode event", zap.Error(err))
		return
	}

	if p.broker == nil && p.outbox == nil {
		metrics.IncrementEventPublish(routingKey, "logged")
		log.Info("Event", zap.ByteString("payload", body))
		return
	}

	if p.broker != nil {
		err = p.broker.PublishRaw(ctx, routingKey, body)
		if err == nil {
			metrics.IncrementEventPublish(routingKey, "published")
			return
		}
		log.Warn("Failed to publish event, storing in outbox", zap.Error(err))
	}

	if p.outbox == nil {
		metrics.IncrementEventPublish(routingKey, "dropped")
		return
	}
	if err := p.store(context.WithoutCancel(ctx), aggregateType, aggregateID, routingKey, body); err != nil {
		metrics.IncrementEventPublish(routingKey, "error")
		log.Error("Failed to store event in outbox", zap.Error(err))
		return
	}
	metrics.IncrementEventPublish(routingKey, "outbox")
}

func (p *Publisher) store(ctx context.Context, aggregateType, aggregateID, routingKey string, body []byte) error {
	event := &outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       body,
	}
	if err := p.outbox.Insert(ctx, event); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

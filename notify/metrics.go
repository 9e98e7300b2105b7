package notify

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const deliverySpanName = "notifications.deliver"

type deliveryMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	eventType  string
	recipients int
	delivered  int
	failed     int
	redelivery bool
	errorStage string
}

func newDeliveryMetrics(ctx context.Context, logger *log.Logger) (*deliveryMetrics, context.Context) {
	tracer := otel.GetTracerProvider().Tracer("communityhub/notify")
	spanCtx, span := tracer.Start(ctx, deliverySpanName)
	return &deliveryMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *deliveryMetrics) SetEventType(t string)  { m.eventType = t }
func (m *deliveryMetrics) SetRecipients(n int)    { m.recipients = n }
func (m *deliveryMetrics) AddDelivered()          { m.delivered++ }
func (m *deliveryMetrics) AddFailed()             { m.failed++ }
func (m *deliveryMetrics) SetRedelivery(r bool)   { m.redelivery = r }
func (m *deliveryMetrics) SetErrorStage(s string) { m.errorStage = s }

// Log finishes the span and emits one structured log line per processed
// message.
func (m *deliveryMetrics) Log(err error) {
	if m == nil {
		return
	}
	totalMs := float64(time.Since(m.start)) / float64(time.Millisecond)
	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("communityhub.event_type", m.eventType),
			attribute.Int("communityhub.recipients", m.recipients),
			attribute.Int("communityhub.delivered", m.delivered),
			attribute.Int("communityhub.failed_sends", m.failed),
			attribute.Bool("communityhub.redelivery", m.redelivery),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("communityhub.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}
	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"type":       m.eventType,
		"recipients": m.recipients,
		"delivered":  m.delivered,
		"total_ms":   totalMs,
	}
	if m.failed > 0 {
		fields["failed_sends"] = m.failed
	}
	if m.redelivery {
		fields["redelivery"] = true
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("notifications.delivery.metrics")
}

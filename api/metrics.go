package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "prism-board/api"
	requestSpanName    = "prism.api.request"
	requestEventName   = "prism.api.request"
	requestEventDomain = "app"
	observabilityEvent = "observability.event"

	attrHTTPRoute      = "http.route"
	attrHTTPMethod     = "http.request.method"
	attrHTTPStatusCode = "http.status_code"
	attrTotalMillis    = "prism.request.total_ms"
	attrUserID         = "prism.request.user_id"
	attrErrorStage     = "prism.request.error_stage"
	attrErrorMessage   = "error.message"

	ctxMetrics = "requestMetrics"
)

// requestMetrics collects what one request reports when it finishes: a span
// and a single observability.event log line carrying the same attributes.
type requestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	method     string
	route      string
	userID     string
	errorStage string
	err        error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}, ctx
}

func (m *requestMetrics) SetUserID(id string) { m.userID = id }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// SetError records a server side failure reported through a written response.
func (m *requestMetrics) SetError(err error) {
	if err != nil {
		m.err = err
	}
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrHTTPRoute, m.route),
		attribute.String(attrHTTPMethod, m.method),
		attribute.Int(attrHTTPStatusCode, status),
		attribute.Float64(attrTotalMillis, durationToMillis(time.Since(m.start))),
	}
	if m.userID != "" {
		attrs = append(attrs, attribute.String(attrUserID, m.userID))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrErrorStage, m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorMessage, err.Error()))
	}
	sevText, sevNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", sevText),
			attribute.Int("severity_number", sevNumber),
		}, attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrMap,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// ObservabilityMiddleware wraps every routed request in requestMetrics.
func ObservabilityMiddleware(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(ctxMetrics, m)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			var he *echo.HTTPError
			if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
				m.SetErrorStage("http")
				err = nil
			}
			m.Log(c.Response().Status, err)
			return nil
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetrics).(*requestMetrics)
	return m
}

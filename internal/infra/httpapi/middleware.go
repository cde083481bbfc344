package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestMiddleware transforms an outgoing request before it is sent.
type RequestMiddleware func(*http.Request) (*http.Request, error)

// ResponseMiddleware transforms a response before it is decoded. Returning an
// error aborts the call; the middleware then owns closing the body.
type ResponseMiddleware func(*http.Response) (*http.Response, error)

// maxErrorPayload bounds how much of a failed response body is kept.
const maxErrorPayload = 1 << 20

type opKey struct{}

func withOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

// Operation returns the workflow operation name a request was issued for.
func Operation(ctx context.Context) string {
	op, _ := ctx.Value(opKey{}).(string)
	return op
}

// DefaultHeaders sets every header in h that the request does not already carry.
func DefaultHeaders(h map[string]string) RequestMiddleware {
	return func(req *http.Request) (*http.Request, error) {
		for k, v := range h {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}
		return req, nil
	}
}

// TraceContext injects the active span context with the global propagator.
func TraceContext() RequestMiddleware {
	return func(req *http.Request) (*http.Request, error) {
		otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
		return req, nil
	}
}

func LogRequest(logger *zap.Logger) RequestMiddleware {
	return func(req *http.Request) (*http.Request, error) {
		fields := []zap.Field{
			zap.String("operation", Operation(req.Context())),
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
		}
		if sc := trace.SpanContextFromContext(req.Context()); sc.IsValid() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		logger.Debug("sending request", fields...)
		return req, nil
	}
}

func LogResponse(logger *zap.Logger) ResponseMiddleware {
	return func(resp *http.Response) (*http.Response, error) {
		fields := []zap.Field{
			zap.String("operation", Operation(resp.Request.Context())),
			zap.Int("status", resp.StatusCode),
			zap.String("url", resp.Request.URL.String()),
		}
		if resp.StatusCode >= http.StatusBadRequest {
			logger.Warn("response error", fields...)
		} else {
			logger.Debug("response received", fields...)
		}
		return resp, nil
	}
}

// CheckStatus turns any non-2xx response into an *errs.TransportError carrying
// the status code and the body as sent by the service.
func CheckStatus() ResponseMiddleware {
	return func(resp *http.Response) (*http.Response, error) {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorPayload))
		if err != nil {
			err = fmt.Errorf("read error body: %w", err)
		}
		return nil, &errs.TransportError{
			Op:         Operation(resp.Request.Context()),
			Method:     resp.Request.Method,
			Path:       resp.Request.URL.Path,
			StatusCode: resp.StatusCode,
			Payload:    payload,
			Err:        err,
		}
	}
}

// Package otelmw wraps the HTTP surface in an OpenTelemetry span per
// request, matching the teacher's own internal/adapter/otel middleware.
package otelmw

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns a chi-compatible middleware that creates spans for
// each HTTP request under serviceName.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	}
}

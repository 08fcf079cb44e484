package metricserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

// HTTPMetrics counts and times API requests by route template, so
// /v1/assets/:assetId stays one series.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ prometheus.Collector = (*HTTPMetrics)(nil)

func NewHTTPMetrics(namespace string) *HTTPMetrics {
	labels := []string{"method", "route", "status"}

	return &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method, route and status.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{ //nolint:exhaustruct
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}
}

func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.duration.Describe(ch)
}

func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.duration.Collect(ch)
}

func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx *echo.Context) error {
			start := time.Now()

			err := next(ctx)

			route := ctx.Path()
			if route == "" {
				route = unmatchedRoute
			}

			status := strconv.Itoa(responseStatus(ctx, err))
			method := ctx.Request().Method

			m.requests.WithLabelValues(method, route, status).Inc()
			m.duration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// responseStatus predicts the status of a failed request, which the error
// handler has not written yet.
func responseStatus(ctx *echo.Context, err error) int {
	if err != nil {
		return middleware.ErrorStatus(err)
	}

	res, unwrapErr := echo.UnwrapResponse(ctx.Response())
	if unwrapErr != nil || res.Status == 0 {
		return http.StatusOK
	}

	return res.Status
}

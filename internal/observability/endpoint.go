package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/errors"
	metricspkg "github.com/tphakala/camhal/internal/observability/metrics"
)

const readHeaderTimeout = 5 * time.Second

// Endpoint serves /metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listener      net.Listener
	listenAddress string
	metrics       *Metrics
	logger        *slog.Logger
}

// NewEndpoint creates an endpoint for the given telemetry settings. It
// fails when telemetry is disabled.
func NewEndpoint(settings *conf.TelemetrySettings, metrics *Metrics) (*Endpoint, error) {
	if settings == nil || !settings.Enabled {
		return nil, errors.Newf("telemetry not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if metrics == nil {
		return nil, errors.Newf("metrics registry is nil").
			Component("observability").
			Category(errors.CategoryValidation).
			Build()
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)

	return &Endpoint{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		listenAddress: settings.Listen,
		metrics:       metrics,
		logger:        serviceLogger(),
	}, nil
}

// Listen binds the listener so address errors surface before serving.
func (e *Endpoint) Listen() error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("address", e.listenAddress).
			Build()
	}
	e.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (e *Endpoint) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Serve runs the HTTP server until ctx ends, then shuts it down gracefully.
// It calls Listen when needed.
func (e *Endpoint) Serve(ctx context.Context) error {
	if e.listener == nil {
		if err := e.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("telemetry endpoint starting", "address", e.listener.Addr().String())
		errCh <- e.server.Serve(e.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("operation", "serve").
			Build()
	case <-ctx.Done():
	}

	e.logger.Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("telemetry server shutdown error", "error", err)
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}

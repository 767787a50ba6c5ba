// Package metrics records Prometheus request metrics for the pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nimburion/rpcserver/pkg/observability/metrics"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// Layer creates a stage that tracks request duration, count and in-flight
// requests by protocol, operation and status, and counts requests refused
// because an inner stage was not ready.
func Layer(m *metrics.RequestMetrics, protocolName string) pipeline.Layer {
	return pipeline.LayerFunc(func(inner pipeline.Service) pipeline.Service {
		return &stage{inner: inner, metrics: m, protocol: protocolName}
	})
}

type stage struct {
	inner    pipeline.Service
	metrics  *metrics.RequestMetrics
	protocol string
}

func (s *stage) Ready(ctx context.Context) error {
	err := s.inner.Ready(ctx)
	if errors.Is(err, pipeline.ErrNotReady) {
		s.metrics.Rejected(s.protocol)
	}
	return err
}

func (s *stage) Call(req *http.Request) (*pipeline.Response, error) {
	s.metrics.IncrementInFlight()
	defer s.metrics.DecrementInFlight()

	start := time.Now()
	resp, err := s.inner.Call(req)
	duration := time.Since(start)

	status := http.StatusInternalServerError
	switch {
	case err != nil:
		if errors.Is(err, pipeline.ErrNotReady) {
			s.metrics.Rejected(s.protocol)
		}
		status = protocol.Classify(err).Status
	case resp != nil:
		status = resp.StatusCode
	}

	operation := ""
	if key, ok := routing.KeyFrom(req); ok {
		operation = key.Target
	}
	s.metrics.Observe(s.protocol, operation, status, duration)
	return resp, err
}

// Package metrics exports coordinator state as Prometheus gauges and
// counters, grounded on internal/monitoring/prometheus.go's
// PrometheusClientImpl (registry + typed collector map) but specialized to
// a fixed, known set of series instead of a dynamic name->collector map,
// since this service has one coordinator and one SharedState, not an
// open-ended metric namespace.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pleblottery/pleblottery/internal/coordinator"
)

// Collector samples a SharedState on every Prometheus scrape.
type Collector struct {
	state *coordinator.SharedState

	hashrate      *prometheus.Desc
	clients       *prometheus.Desc
	sharesTotal   *prometheus.Desc
	bestShare     *prometheus.Desc
	blocksFound   *prometheus.Desc
	channelsTotal *prometheus.Desc
}

// NewCollector builds a Collector bound to state.
func NewCollector(state *coordinator.SharedState) *Collector {
	return &Collector{
		state: state,
		hashrate: prometheus.NewDesc(
			"pleblottery_total_hashrate_hash_per_second",
			"Aggregate nominal hashrate across every connected channel.",
			nil, nil,
		),
		clients: prometheus.NewDesc(
			"pleblottery_clients",
			"Number of connected downstream clients.",
			nil, nil,
		),
		sharesTotal: prometheus.NewDesc(
			"pleblottery_shares_submitted_total",
			"Total shares submitted across every channel.",
			nil, nil,
		),
		bestShare: prometheus.NewDesc(
			"pleblottery_best_share_difficulty",
			"Highest difficulty share seen since startup.",
			nil, nil,
		),
		blocksFound: prometheus.NewDesc(
			"pleblottery_blocks_found_total",
			"Total blocks found by this pool instance.",
			nil, nil,
		),
		channelsTotal: prometheus.NewDesc(
			"pleblottery_channels",
			"Number of open channels, by kind.",
			[]string{"kind"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hashrate
	ch <- c.clients
	ch <- c.sharesTotal
	ch <- c.bestShare
	ch <- c.blocksFound
	ch <- c.channelsTotal
}

// Collect implements prometheus.Collector, sampling SharedState fresh on
// every scrape rather than caching, since scrapes are infrequent relative
// to share submission rate.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.hashrate, prometheus.GaugeValue, float64(c.state.TotalHashrate()))
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(c.state.TotalClients()))
	ch <- prometheus.MustNewConstMetric(c.sharesTotal, prometheus.CounterValue, float64(c.state.TotalSharesSubmitted()))
	ch <- prometheus.MustNewConstMetric(c.bestShare, prometheus.GaugeValue, c.state.BestShare())
	ch <- prometheus.MustNewConstMetric(c.blocksFound, prometheus.CounterValue, float64(c.state.BlocksFound()))

	var standardCount, extendedCount, groupCount int
	for _, client := range c.state.Registry.Clients() {
		standard, extended, group := client.Channels()
		standardCount += len(standard)
		extendedCount += len(extended)
		if group != nil {
			groupCount++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.channelsTotal, prometheus.GaugeValue, float64(standardCount), "standard")
	ch <- prometheus.MustNewConstMetric(c.channelsTotal, prometheus.GaugeValue, float64(extendedCount), "extended")
	ch <- prometheus.MustNewConstMetric(c.channelsTotal, prometheus.GaugeValue, float64(groupCount), "group")
}

// Server exposes a Collector's registry over /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer registers collector against a fresh registry and binds a
// /metrics handler on addr.
func NewServer(addr string, collector *Collector) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the metrics endpoint and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Package connectivity observes network reachability of the API host.
package connectivity

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pulsefit/pulsefit-client-go/internal/adapters/config"
	"github.com/pulsefit/pulsefit-client-go/internal/domain"
	"github.com/pulsefit/pulsefit-client-go/pkg/safego"
)

// ProbeMonitor implements domain.ConnectivityMonitor by periodically issuing
// a HEAD request against the API host's probe path. Subscribers are notified
// on transitions only, never on steady state.
type ProbeMonitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   domain.Logger
	clock    clock.Clock

	online atomic.Bool

	mu          sync.Mutex
	subscribers map[int]func(online bool)
	nextSubID   int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewProbeMonitor builds a monitor from the client config. The monitor
// starts optimistic (online) so the first requests are not spuriously queued
// before the first probe completes.
func NewProbeMonitor(cfgProvider config.Provider, logger domain.Logger, clk clock.Clock) (*ProbeMonitor, error) {
	if cfgProvider == nil {
		panic("cfgProvider cannot be nil in NewProbeMonitor")
	}
	if logger == nil {
		panic("logger cannot be nil in NewProbeMonitor")
	}
	if clk == nil {
		clk = clock.New()
	}
	cfg := cfgProvider.Get()

	probeURL, err := url.JoinPath(cfg.API.BaseURL, cfg.Connectivity.ProbePath)
	if err != nil {
		return nil, err
	}

	m := &ProbeMonitor{
		probeURL: probeURL,
		interval: cfg.Connectivity.ProbeInterval(),
		client:   &http.Client{Timeout: cfg.Connectivity.ProbeTimeout()},
		logger:   logger,
		clock:    clk,

		subscribers: make(map[int]func(online bool)),
		stopCh:      make(chan struct{}),
	}
	m.online.Store(true)
	return m, nil
}

// Start launches the probe loop. It returns immediately; the loop runs until
// ctx is cancelled or Stop is called.
func (m *ProbeMonitor) Start(ctx context.Context) {
	safego.Execute(ctx, m.logger, "ConnectivityProbe", func() {
		ticker := m.clock.Ticker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	})
}

// Stop halts the probe loop.
func (m *ProbeMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Online returns the last observed reachability state.
func (m *ProbeMonitor) Online() bool {
	return m.online.Load()
}

// Subscribe registers fn for transition notifications and returns an
// unsubscribe function.
func (m *ProbeMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error(ctx, "Failed to build connectivity probe request", "error", err.Error())
		return
	}

	resp, err := m.client.Do(req)
	reachable := err == nil
	if resp != nil {
		resp.Body.Close()
	}

	if m.online.Swap(reachable) != reachable {
		m.logger.Info(ctx, "Network reachability changed", "online", reachable, "probe_url", m.probeURL)
		m.notify(reachable)
	}
}

func (m *ProbeMonitor) notify(online bool) {
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

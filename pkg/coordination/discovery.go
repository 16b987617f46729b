package coordination

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/metrics"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// Discovery polls the transport for advertisements matching a predicate
// and publishes the current view on the event bus. Each poll replaces the
// previous result set; an advertisement absent from recent polls is
// forgotten once it has not been seen within the horizon, so a single
// dropped poll does not flap the view.
//
// Concurrent Safety:
// 1. Start/Close are idempotent via sync.Once
// 2. The poll goroutine respects stopCh for clean shutdown
// 3. Pause stops the poll timer; Resume recreates it without losing the
//    configured filter
type Discovery struct {
	tr      transport.Transport
	bus     *Bus
	log     logging.Logger
	metrics *metrics.Registry
	clk     clock.Clock

	interval time.Duration
	horizon  time.Duration

	mu       sync.Mutex
	filter   string
	ticker   *clock.Ticker
	tickerC  <-chan time.Time
	seen     map[string]discoveredEntry // endpoint -> entry
	resumeCh chan struct{}
	stopCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

type discoveredEntry struct {
	ad       transport.Advertisement
	lastSeen time.Time
}

// NewDiscovery creates a discovery poller.
func NewDiscovery(tr transport.Transport, bus *Bus, interval, horizon time.Duration,
	log logging.Logger, reg *metrics.Registry, clk clock.Clock) *Discovery {
	return &Discovery{
		tr:       tr,
		bus:      bus,
		log:      log,
		metrics:  reg,
		clk:      clk,
		interval: interval,
		horizon:  horizon,
		seen:     make(map[string]discoveredEntry),
		resumeCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// StartDiscovery begins polling with the given predicate. An immediate
// first poll runs before the timer takes over.
func (d *Discovery) StartDiscovery(filter string) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("discovery already running")
	}
	d.started = true
	d.filter = filter
	d.ticker = d.clk.Ticker(d.interval)
	d.tickerC = d.ticker.C
	d.mu.Unlock()

	go d.pollLoop()
	return nil
}

// Pause stops the poll timer. The filter and discovered view are kept.
func (d *Discovery) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
		d.tickerC = nil
	}
}

// Resume restarts the poll timer after a Pause.
func (d *Discovery) Resume() {
	d.mu.Lock()
	if d.ticker == nil && d.started {
		d.ticker = d.clk.Ticker(d.interval)
		d.tickerC = d.ticker.C
	}
	d.mu.Unlock()

	select {
	case d.resumeCh <- struct{}{}:
	default:
	}
}

// DiscoverOnce runs a single bounded query outside the poll loop. When no
// match arrives before the timeout it emits a DiscoveryTimeoutEvent and
// returns an empty slice.
func (d *Discovery) DiscoverOnce(filter string, timeout time.Duration, maxResults int) ([]transport.Advertisement, error) {
	d.metrics.DiscoveryPolls.Inc()
	ads, err := d.tr.Discover(filter, timeout, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ads) == 0 {
		d.bus.Publish(DiscoveryTimeoutEvent{Filter: filter})
	}
	return ads, nil
}

// Close cancels the timer and releases the discovered view.
func (d *Discovery) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.mu.Lock()
		if d.ticker != nil {
			d.ticker.Stop()
			d.ticker = nil
			d.tickerC = nil
		}
		d.seen = make(map[string]discoveredEntry)
		d.mu.Unlock()
	})
}

func (d *Discovery) pollLoop() {
	d.poll()
	for {
		d.mu.Lock()
		ch := d.tickerC
		d.mu.Unlock()

		if ch == nil {
			// Paused: wait for Resume or Close.
			select {
			case <-d.stopCh:
				return
			case <-d.resumeCh:
				continue
			}
		}

		select {
		case <-d.stopCh:
			return
		case <-d.resumeCh:
			continue
		case <-ch:
			d.poll()
		}
	}
}

func (d *Discovery) poll() {
	d.mu.Lock()
	filter := d.filter
	d.mu.Unlock()

	d.metrics.DiscoveryPolls.Inc()
	ads, err := d.tr.Discover(filter, 0, 0)
	if err != nil {
		d.log.Warn("discovery poll failed", logging.Err(err))
		return
	}

	now := d.clk.Now()
	d.mu.Lock()
	for _, ad := range ads {
		d.seen[ad.Endpoint] = discoveredEntry{ad: ad, lastSeen: now}
	}
	view := make([]transport.Advertisement, 0, len(d.seen))
	for endpoint, e := range d.seen {
		if now.Sub(e.lastSeen) > d.horizon {
			delete(d.seen, endpoint)
			continue
		}
		view = append(view, e.ad)
	}
	d.mu.Unlock()

	d.metrics.DiscoveryPeersVisible.Set(float64(len(view)))
	d.bus.Publish(StreamDiscoveredEvent{Ads: view})
}

package coordination

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/metrics"
	"github.com/avolaere/syncmesh/pkg/transport"
	"github.com/avolaere/syncmesh/pkg/transport/inproc"
)

func newTestDiscovery(t *testing.T) (*Discovery, *inproc.Network, *Bus, *clock.Mock) {
	t.Helper()
	net := inproc.NewNetwork()
	t.Cleanup(func() { net.Close() })

	bus := NewBus()
	mock := clock.NewMock()
	d := NewDiscovery(net.Node(), bus, 100*time.Millisecond, time.Hour,
		logging.NewNopLogger(), metrics.NewRegistry(), mock)
	t.Cleanup(d.Close)
	return d, net, bus, mock
}

func advertiseControl(t *testing.T, net *inproc.Network, session, id string) transport.Outlet {
	t.Helper()
	outlet, err := net.Node().Advertise(transport.Advertisement{
		Name:    session + "-control-" + id,
		TypeTag: controlTypeTag,
		Metadata: map[string]string{
			metaSession: session,
			metaNodeID:  id,
			metaNodeUID: "uid-" + id,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return outlet
}

func awaitDiscoveryView(t *testing.T, sub *Subscription, want int) []transport.Advertisement {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("bus closed while waiting for discovery view")
			}
			if discovered, isDiscovery := ev.(StreamDiscoveredEvent); isDiscovery {
				if len(discovered.Ads) == want {
					return discovered.Ads
				}
			}
		case <-deadline:
			t.Fatalf("no discovery view with %d entries", want)
		}
	}
}

func TestDiscoveryPublishesView(t *testing.T) {
	d, net, bus, _ := newTestDiscovery(t)
	advertiseControl(t, net, "lab", "alpha")
	advertiseControl(t, net, "lab", "beta")
	advertiseControl(t, net, "other", "gamma")

	sub := bus.Subscribe()
	defer sub.Close()

	filter := "session='lab'"
	if err := d.StartDiscovery(filter); err != nil {
		t.Fatal(err)
	}

	// The first poll runs immediately, before any tick.
	ads := awaitDiscoveryView(t, sub, 2)
	for _, ad := range ads {
		if ad.Metadata[metaSession] != "lab" {
			t.Errorf("view leaked advertisement from session %q", ad.Metadata[metaSession])
		}
	}
}

func TestDiscoveryDoubleStartFails(t *testing.T) {
	d, _, _, _ := newTestDiscovery(t)
	if err := d.StartDiscovery("session='lab'"); err != nil {
		t.Fatal(err)
	}
	if err := d.StartDiscovery("session='lab'"); err == nil {
		t.Error("second StartDiscovery succeeded")
	}
}

func TestDiscoveryTicksPickUpLateAdverts(t *testing.T) {
	d, net, bus, mock := newTestDiscovery(t)
	advertiseControl(t, net, "lab", "alpha")

	sub := bus.Subscribe()
	defer sub.Close()

	if err := d.StartDiscovery("session='lab'"); err != nil {
		t.Fatal(err)
	}
	awaitDiscoveryView(t, sub, 1)

	advertiseControl(t, net, "lab", "beta")
	mock.Add(150 * time.Millisecond)
	awaitDiscoveryView(t, sub, 2)
}

func TestDiscoveryPauseStopsPolling(t *testing.T) {
	d, net, bus, mock := newTestDiscovery(t)
	advertiseControl(t, net, "lab", "alpha")

	sub := bus.Subscribe()
	defer sub.Close()

	if err := d.StartDiscovery("session='lab'"); err != nil {
		t.Fatal(err)
	}
	awaitDiscoveryView(t, sub, 1)

	d.Pause()
	advertiseControl(t, net, "lab", "beta")
	mock.Add(time.Second)

	// Drain anything in flight from before the pause, then confirm no
	// two-entry view ever arrives while paused.
	timeout := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case ev := <-sub.C:
			if discovered, isDiscovery := ev.(StreamDiscoveredEvent); isDiscovery && len(discovered.Ads) == 2 {
				t.Fatal("poll ran while paused")
			}
		case <-timeout:
			break drain
		}
	}

	d.Resume()
	mock.Add(150 * time.Millisecond)
	awaitDiscoveryView(t, sub, 2)
}

func TestDiscoverOnceEmitsTimeoutEvent(t *testing.T) {
	d, _, bus, _ := newTestDiscovery(t)
	sub := bus.Subscribe()
	defer sub.Close()

	ads, err := d.DiscoverOnce("session='empty'", 10*time.Millisecond, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 0 {
		t.Errorf("DiscoverOnce returned %d ads, want 0", len(ads))
	}
	select {
	case ev := <-sub.C:
		if _, ok := ev.(DiscoveryTimeoutEvent); !ok {
			t.Errorf("event = %T, want DiscoveryTimeoutEvent", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no timeout event received")
	}
}

func TestDiscoveryForgetsVanishedAdverts(t *testing.T) {
	net := inproc.NewNetwork()
	t.Cleanup(func() { net.Close() })

	bus := NewBus()
	mock := clock.NewMock()
	d := NewDiscovery(net.Node(), bus, 100*time.Millisecond, 250*time.Millisecond,
		logging.NewNopLogger(), metrics.NewRegistry(), mock)
	t.Cleanup(d.Close)

	advertiseControl(t, net, "lab", "alpha")
	beta := advertiseControl(t, net, "lab", "beta")

	sub := bus.Subscribe()
	defer sub.Close()
	if err := d.StartDiscovery("session='lab'"); err != nil {
		t.Fatal(err)
	}
	awaitDiscoveryView(t, sub, 2)

	// beta withdraws. Within the horizon the view keeps it, so a missed
	// poll does not flap the membership built on top.
	beta.Close()
	mock.Add(100 * time.Millisecond)
	awaitDiscoveryView(t, sub, 2)

	// Past the horizon it is forgotten.
	mock.Add(200 * time.Millisecond)
	ads := awaitDiscoveryView(t, sub, 1)
	if ads[0].Metadata[metaNodeID] != "alpha" {
		t.Errorf("surviving advert = %q, want alpha", ads[0].Metadata[metaNodeID])
	}
}

package inproc

import (
	"testing"
	"time"

	"github.com/avolaere/syncmesh/pkg/transport"
)

func testAd(name, role string) transport.Advertisement {
	return transport.Advertisement{
		Name:         name,
		TypeTag:      "syncmesh-control",
		ChannelCount: 1,
		Metadata: map[string]string{
			"session":   "lab-a",
			"node_role": role,
		},
	}
}

func TestAdvertiseAndDiscover(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	a := net.Node()
	b := net.Node()

	outlet, err := a.Advertise(testAd("lab-a-control-n1", "coordinator"))
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	defer outlet.Close()

	ads, err := b.Discover("session = 'lab-a' and node_role = 'coordinator'", 0, 0)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(ads) != 1 {
		t.Fatalf("Expected 1 advertisement, got %d", len(ads))
	}
	if ads[0].Name != "lab-a-control-n1" {
		t.Errorf("Expected name 'lab-a-control-n1', got %q", ads[0].Name)
	}
	if ads[0].Endpoint == "" {
		t.Errorf("Expected backend-assigned endpoint")
	}

	// Non-matching predicate returns nothing.
	ads, err = b.Discover("session = 'lab-b'", 0, 0)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(ads) != 0 {
		t.Errorf("Expected no matches, got %d", len(ads))
	}
}

func TestDiscoverWaitsForLateAdvertisement(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	a := net.Node()
	b := net.Node()

	go func() {
		time.Sleep(20 * time.Millisecond)
		a.Advertise(testAd("late", "participant"))
	}()

	start := time.Now()
	ads, err := b.Discover("node_role = 'participant'", 500*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(ads) != 1 {
		t.Fatalf("Expected 1 advertisement, got %d", len(ads))
	}
	// Must return once the match appears, well before the full wait.
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Discover took %v, expected early return", elapsed)
	}
}

func TestDiscoverTimeout(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	b := net.Node()
	start := time.Now()
	ads, err := b.Discover("node_role = 'coordinator'", 30*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(ads) != 0 {
		t.Errorf("Expected no matches, got %d", len(ads))
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Discover returned after %v, expected full wait", elapsed)
	}
}

func TestPushPull(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	a := net.Node()
	b := net.Node()

	outlet, err := a.Advertise(testAd("chan", "participant"))
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	ads, _ := b.Discover("name = 'chan'", 0, 1)
	if len(ads) != 1 {
		t.Fatalf("Expected 1 advertisement")
	}
	inlet, err := b.Subscribe(ads[0])
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := outlet.Push([]byte("one")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := outlet.Push([]byte("two")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// Messages arrive in push order.
	msg, err := inlet.Pull(time.Second)
	if err != nil || string(msg) != "one" {
		t.Fatalf("Pull = (%q, %v), want (one, nil)", msg, err)
	}
	msg, err = inlet.Pull(time.Second)
	if err != nil || string(msg) != "two" {
		t.Fatalf("Pull = (%q, %v), want (two, nil)", msg, err)
	}

	// Zero timeout polls only.
	msg, err = inlet.Pull(0)
	if err != nil {
		t.Fatalf("Pull poll errored: %v", err)
	}
	if msg != nil {
		t.Errorf("Expected empty poll, got %q", msg)
	}

	corr, err := inlet.TimeCorrection()
	if err != nil || corr != 0 {
		t.Errorf("TimeCorrection = (%v, %v), want (0, nil)", corr, err)
	}
}

func TestSetMetadataVisibleToDiscovery(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	a := net.Node()
	b := net.Node()

	outlet, err := a.Advertise(testAd("ctl", "unassigned"))
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	err = outlet.SetMetadata(map[string]string{
		"session":   "lab-a",
		"node_role": "coordinator",
	})
	if err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}

	ads, _ := b.Discover("node_role = 'coordinator'", 0, 0)
	if len(ads) != 1 {
		t.Fatalf("Expected updated advertisement to match, got %d results", len(ads))
	}
}

func TestClosedOutletStopsDelivery(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	a := net.Node()
	b := net.Node()

	outlet, _ := a.Advertise(testAd("gone", "participant"))
	ads, _ := b.Discover("name = 'gone'", 0, 1)
	inlet, err := b.Subscribe(ads[0])
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	outlet.Close()

	// Advertisement is withdrawn.
	ads, _ = b.Discover("name = 'gone'", 0, 0)
	if len(ads) != 0 {
		t.Errorf("Expected advertisement withdrawn after Close")
	}

	// Inlet reports closed once drained.
	if _, err := inlet.Pull(0); err != transport.ErrClosed {
		t.Errorf("Pull after outlet close = %v, want ErrClosed", err)
	}

	if err := outlet.Push([]byte("x")); err != transport.ErrClosed {
		t.Errorf("Push after close = %v, want ErrClosed", err)
	}
}

func TestSubscribeUnknownEndpoint(t *testing.T) {
	net := NewNetwork()
	defer net.Close()

	b := net.Node()
	_, err := b.Subscribe(transport.Advertisement{Endpoint: "missing"})
	if err != transport.ErrNotFound {
		t.Errorf("Subscribe = %v, want ErrNotFound", err)
	}
}

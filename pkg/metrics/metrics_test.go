package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistryRegistersFamilies(t *testing.T) {
	r := NewRegistry()

	r.CoordinationConnectedNodes.Set(3)
	if got := testutil.ToFloat64(r.CoordinationConnectedNodes); got != 3 {
		t.Errorf("CoordinationConnectedNodes = %v, want 3", got)
	}

	r.CoordinationHeartbeats.WithLabelValues("sent").Inc()
	r.CoordinationHeartbeats.WithLabelValues("sent").Inc()
	if got := testutil.ToFloat64(r.CoordinationHeartbeats.WithLabelValues("sent")); got != 2 {
		t.Errorf("CoordinationHeartbeats{sent} = %v, want 2", got)
	}
}

func TestSetPhaseClearsOthers(t *testing.T) {
	r := NewRegistry()

	r.SetPhase("electing")
	r.SetPhase("ready")

	if got := testutil.ToFloat64(r.CoordinationPhase.WithLabelValues("ready")); got != 1 {
		t.Errorf("phase{ready} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.CoordinationPhase.WithLabelValues("electing")); got != 0 {
		t.Errorf("phase{electing} = %v, want 0", got)
	}
}

func TestSetRole(t *testing.T) {
	r := NewRegistry()

	r.SetRole("participant")
	r.SetRole("coordinator")

	if got := testutil.ToFloat64(r.CoordinationRole.WithLabelValues("coordinator")); got != 1 {
		t.Errorf("role{coordinator} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.CoordinationRole.WithLabelValues("participant")); got != 0 {
		t.Errorf("role{participant} = %v, want 0", got)
	}
}

func TestDefaultRegistryIsShared(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry returned different instances")
	}
}

package coordination

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolaere/syncmesh/pkg/transport/inproc"
)

const (
	integrationTick    = 10 * time.Millisecond
	integrationTimeout = 5 * time.Second
)

func integrationConfig(nodeID string) Config {
	cfg := DefaultConfig("lab", nodeID)
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.DiscoveryInterval = 25 * time.Millisecond
	cfg.NodeTimeout = 200 * time.Millisecond
	cfg.JoinTimeout = 2 * time.Second
	cfg.ReadyTimeout = 2 * time.Second
	return cfg
}

// startSession brings up one coordinator and n-1 participants on a shared
// in-process network. The first node settles before the rest start, as a
// hub typically boots before the devices that join it.
func startSession(t *testing.T, n int) []*Controller {
	t.Helper()
	net := inproc.NewNetwork()
	t.Cleanup(func() { net.Close() })

	ids := []string{"hub", "eeg-rig", "eye-tracker", "markers", "audio"}
	require.LessOrEqual(t, n, len(ids))

	controllers := make([]*Controller, 0, n)
	for i := 0; i < n; i++ {
		c, err := NewController(integrationConfig(ids[i]), net.Node())
		require.NoError(t, err)
		t.Cleanup(c.Dispose)
		require.NoError(t, c.Start())
		controllers = append(controllers, c)
	}
	return controllers
}

func coordinatorOf(t *testing.T, controllers []*Controller) *Controller {
	t.Helper()
	var coord *Controller
	for _, c := range controllers {
		if c.State().IsCoordinator() {
			require.Nil(t, coord, "two controllers claim the coordinator role")
			coord = c
		}
	}
	require.NotNil(t, coord, "no controller claims the coordinator role")
	return coord
}

func TestSessionExactlyOneCoordinator(t *testing.T) {
	controllers := startSession(t, 3)

	coord := coordinatorOf(t, controllers)
	assert.Equal(t, controllers[0], coord, "the first-started node should have won")

	for _, c := range controllers {
		assert.Equal(t, coord.NodeUID(), c.State().CoordinatorUID())
	}
}

func TestSessionMembershipConverges(t *testing.T) {
	controllers := startSession(t, 3)

	// Every node's view reaches all three members: the coordinator by
	// admitting joins, participants by topology broadcast.
	require.Eventually(t, func() bool {
		for _, c := range controllers {
			if c.State().NodeCount() != 3 {
				return false
			}
		}
		return true
	}, integrationTimeout, integrationTick, "membership views did not converge")
}

func TestSessionStreamLifecycleReachesAllNodes(t *testing.T) {
	controllers := startSession(t, 3)
	coord := coordinatorOf(t, controllers)

	require.Eventually(t, func() bool {
		return coord.State().NodeCount() == 3
	}, integrationTimeout, integrationTick)

	cfg := StreamConfig{Name: "eeg", ChannelCount: 32, SampleRate: 512, DataType: "float32"}
	require.NoError(t, coord.CreateStream(cfg))

	// StartStream blocks until every node (AutoSignalReady) acknowledged
	// the create, so once it returns the start command is on the wire.
	require.NoError(t, coord.StartStream("eeg"))

	require.Eventually(t, func() bool {
		for _, c := range controllers {
			_, rec, ok := c.Stream("eeg")
			if !ok || !rec.Started || rec.Paused {
				return false
			}
		}
		return true
	}, integrationTimeout, integrationTick, "start did not reach every node")

	require.NoError(t, coord.PauseStream("eeg"))
	require.Eventually(t, func() bool {
		for _, c := range controllers {
			_, rec, _ := c.Stream("eeg")
			if !rec.Paused {
				return false
			}
		}
		return true
	}, integrationTimeout, integrationTick, "pause did not reach every node")

	require.NoError(t, coord.ResumeStream("eeg", false))
	require.Eventually(t, func() bool {
		for _, c := range controllers {
			_, rec, _ := c.Stream("eeg")
			if rec.Paused {
				return false
			}
		}
		return true
	}, integrationTimeout, integrationTick, "resume did not reach every node")

	require.NoError(t, coord.DestroyStream("eeg"))
	require.Eventually(t, func() bool {
		for _, c := range controllers {
			if _, _, ok := c.Stream("eeg"); ok {
				return false
			}
		}
		return true
	}, integrationTimeout, integrationTick, "destroy did not reach every node")
}

func TestSessionParticipantLeaveShrinksView(t *testing.T) {
	controllers := startSession(t, 3)
	coord := coordinatorOf(t, controllers)

	require.Eventually(t, func() bool {
		return coord.State().NodeCount() == 3
	}, integrationTimeout, integrationTick)

	leaving := controllers[2]
	leavingUID := leaving.NodeUID()
	leaving.Dispose()

	require.Eventually(t, func() bool {
		if coord.State().NodeCount() != 2 {
			return false
		}
		_, known := coord.State().Node(leavingUID)
		return !known
	}, integrationTimeout, integrationTick, "coordinator kept the departed node")

	// The surviving participant follows via topology broadcast.
	require.Eventually(t, func() bool {
		return controllers[1].State().NodeCount() == 2
	}, integrationTimeout, integrationTick, "participant view did not shrink")
}

func TestSessionUserMessageBroadcast(t *testing.T) {
	controllers := startSession(t, 2)
	coord := coordinatorOf(t, controllers)
	participant := controllers[1]

	require.Eventually(t, func() bool {
		return coord.State().NodeCount() == 2
	}, integrationTimeout, integrationTick)

	sub := participant.Events()
	defer sub.Close()
	require.NoError(t, coord.BroadcastUserMessage(map[string]string{"marker": "stimulus-on"}))

	deadline := time.After(integrationTimeout)
	for {
		select {
		case ev := <-sub.C:
			if um, ok := ev.(UserMessageEvent); ok {
				assert.Equal(t, coord.NodeUID(), um.From)
				assert.Equal(t, "stimulus-on", um.Payload["marker"])
				return
			}
		case <-deadline:
			t.Fatal("user message never reached the participant")
		}
	}
}

func TestSessionStaleNodeEviction(t *testing.T) {
	controllers := startSession(t, 3)
	coord := coordinatorOf(t, controllers)

	require.Eventually(t, func() bool {
		return coord.State().NodeCount() == 3
	}, integrationTimeout, integrationTick)

	// Kill a participant's transport without a Leave: its heartbeats stop
	// and the coordinator evicts it by timeout.
	silenced := controllers[2]
	silencedUID := silenced.NodeUID()
	silenced.outlet.Close()

	require.Eventually(t, func() bool {
		_, known := coord.State().Node(silencedUID)
		return !known
	}, integrationTimeout, integrationTick, "stale node was not evicted")
}

func TestSessionConcurrentStartElectsOneCoordinator(t *testing.T) {
	net := inproc.NewNetwork()
	t.Cleanup(func() { net.Close() })

	ids := []string{"hub", "eeg-rig", "eye-tracker"}
	controllers := make([]*Controller, len(ids))
	for i, id := range ids {
		c, err := NewController(integrationConfig(id), net.Node())
		require.NoError(t, err)
		t.Cleanup(c.Dispose)
		controllers[i] = c
	}

	// All nodes race the election at once; nobody has settled before the
	// others begin discovering.
	var wg sync.WaitGroup
	errs := make([]error, len(controllers))
	for i, c := range controllers {
		wg.Add(1)
		go func(i int, c *Controller) {
			defer wg.Done()
			errs[i] = c.Start()
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "node %s failed to start", ids[i])
	}

	coord := coordinatorOf(t, controllers)
	for _, c := range controllers {
		assert.Equal(t, coord.NodeUID(), c.State().CoordinatorUID())
	}
}

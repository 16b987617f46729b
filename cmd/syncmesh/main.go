// Command syncmesh runs one coordination node as a daemon: it joins (or
// founds) the configured session, logs membership and stream lifecycle
// events, and serves Prometheus metrics.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/avolaere/syncmesh/pkg/config"
	"github.com/avolaere/syncmesh/pkg/coordination"
	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/metrics"
	"github.com/avolaere/syncmesh/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	sessionName := flag.String("session", "", "Override the session name")
	nodeID := flag.String("node", "", "Override the node ID")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logging.NewDefaultLogger().Error("config load failed", logging.Err(err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if *sessionName != "" {
		cfg.Session.Name = *sessionName
	}
	if *nodeID != "" {
		cfg.Session.NodeID = *nodeID
	}

	log := cfg.NewLogger()
	tr, err := cfg.NewTransport(log)
	if err != nil {
		log.Error("transport init failed", logging.Err(err))
		os.Exit(1)
	}
	defer tr.Close()

	coordCfg := cfg.Coordination()
	coordCfg.Logger = log

	sess, err := session.New(coordCfg, tr)
	if err != nil {
		log.Error("session init failed", logging.Err(err))
		os.Exit(1)
	}
	defer sess.Close()

	events := sess.Controller().Events()
	defer events.Close()
	go logEvents(log, events)

	if cfg.Metrics.Enabled {
		go serveMetrics(log, cfg.Metrics.Listen)
	}

	log.Info("joining session",
		logging.Session(cfg.Session.Name),
		logging.String("node_id", cfg.Session.NodeID))
	if err := sess.Start(); err != nil {
		log.Error("session start failed", logging.Err(err))
		os.Exit(1)
	}
	if sess.Controller().State().IsCoordinator() {
		log.Info("elected coordinator")
	} else {
		log.Info("joined as participant")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}

func logEvents(log logging.Logger, events *coordination.Subscription) {
	for ev := range events.C {
		switch e := ev.(type) {
		case coordination.PhaseChangedEvent:
			log.Info("phase changed",
				logging.String("from", e.From.String()), logging.String("to", e.To.String()))
		case coordination.NodeJoinedEvent:
			log.Info("node joined",
				logging.NodeUID(e.Node.UID), logging.String("node_id", e.Node.ID))
		case coordination.NodeLeftEvent:
			log.Info("node left",
				logging.NodeUID(e.UID), logging.String("reason", e.Reason))
		case coordination.StreamCreatedEvent:
			log.Info("stream created", logging.Stream(e.Config.Name))
		case coordination.StreamStartedEvent:
			log.Info("stream started", logging.Stream(e.Name))
		case coordination.StreamStoppedEvent:
			log.Info("stream stopped", logging.Stream(e.Name))
		case coordination.StreamDestroyedEvent:
			log.Info("stream destroyed", logging.Stream(e.Name))
		}
	}
}

func serveMetrics(log logging.Logger, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultRegistry().Handler())
	log.Info("metrics listening", logging.String("addr", listen))
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.Error("metrics server failed", logging.Err(err))
	}
}

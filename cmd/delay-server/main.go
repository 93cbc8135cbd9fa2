package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dschor5/delayproxy/internal/config"
	"github.com/dschor5/delayproxy/internal/delaysetting"
	"github.com/dschor5/delayproxy/internal/hub"
	"github.com/dschor5/delayproxy/internal/metrics"
	"github.com/dschor5/delayproxy/internal/proxy"
	"github.com/dschor5/delayproxy/internal/statusbus"
	"github.com/dschor5/delayproxy/internal/statusgui"
)

func main() {
	cfg, err := config.Load("delay-server", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	delay := delaysetting.NewWithTimeout(cfg.GuardTimeoutDelay)
	if cfg.HoldOverride != nil {
		d := time.Duration(*cfg.HoldOverride * float64(time.Second))
		if err := delay.SetOverride(d); err != nil {
			l.Warn("initial_hold_override_failed", "error", err)
		}
	}

	policy := hub.PolicyDrop
	if cfg.HubPolicy == "kick" {
		policy = hub.PolicyKick
	}
	p := proxy.New(
		proxy.WithDelaySetting(delay),
		proxy.WithLogger(l),
		proxy.WithHubPolicy(policy),
		proxy.WithClientBufSize(cfg.HubClientBuf),
		proxy.WithAcceptTimeout(cfg.AcceptTimeout),
		proxy.WithMaxClients(cfg.MaxClients),
		proxy.WithQueueGuardTimeout(cfg.GuardTimeoutQueue),
		proxy.WithConsumerPollInterval(cfg.MultiplexTick),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	statusClient, err := statusbus.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		l.Warn("statusbus_disabled", "error", err)
		statusClient = nil
	}
	defer func() { _ = statusClient.Close() }()

	snapshotSource := func() statusbus.Snapshot {
		qlen, _ := p.QueueLength()
		counters := p.Counters()
		return statusbus.Snapshot{
			Produced:    counters.Produced,
			Consumed:    counters.Consumed,
			Dropped:     counters.Dropped,
			QueueLength: qlen,
			HoldSeconds: delay.Current().Seconds(),
			State:       p.State().String(),
		}
	}
	publisher := statusbus.NewPublisher(statusClient, cfg.StatusInterval, snapshotSource, l)
	publisher.Run(ctx, &wg)

	// Wired before Start so the ingress decode loop and producer task have
	// the hook in place before either can drop a frame.
	p.SetDropHook(func(reason, remote string) { publisher.PublishDrop(ctx, reason, remote) })

	if err := p.Start(cfg.IngressPort, cfg.EgressPort); err != nil {
		l.Error("proxy_start_failed", "error", err)
		os.Exit(1)
	}

	startMetricsLogger(ctx, cfg.StatusInterval, l,
		func() int { qlen, _ := p.QueueLength(); return qlen },
		func() float64 { return delay.Current().Seconds() },
		&wg)

	guiSource := func() statusgui.StatusSnapshot {
		s := snapshotSource()
		return statusgui.StatusSnapshot{
			Produced:    s.Produced,
			Consumed:    s.Consumed,
			Dropped:     s.Dropped,
			QueueLength: s.QueueLength,
			HoldSeconds: s.HoldSeconds,
			State:       s.State,
		}
	}
	guiHandler := statusgui.NewHandler(guiSource, cfg.StatusInterval, l)

	mux := metrics.NewMux()
	guiHandler.RegisterAndRun(mux)
	metrics.SetReadinessFunc(func() bool { return p.State() == proxy.StateRunning })

	shutdownMetrics := func() {}
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.MetricsAddr, mux)
		shutdownMetrics = func() { _ = srvHTTP.Shutdown(context.Background()) }
	}
	defer shutdownMetrics()

	egressPort := portOf(p.EgressAddr())
	cleanupMDNS, err := startMDNS(ctx, cfg, egressPort)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
	} else {
		defer cleanupMDNS()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())

	cancel()
	p.Stop()
	wg.Wait()
}

func portOf(addr net.Addr) int {
	if addr == nil {
		return 0
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}

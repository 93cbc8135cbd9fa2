package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/dschor5/delayproxy/internal/config"
)

const mdnsServiceType = "_delay-proxy._tcp"

// startMDNS registers the proxy via mDNS and returns a cleanup function.
// Safe to call even when disabled (no-op).
func startMDNS(ctx context.Context, cfg *config.Config, egressPort int) (func(), error) {
	if !cfg.MDNSEnable {
		return func() {}, nil
	}
	instance := cfg.MDNSName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("delay-proxy-%s", host)
	}
	meta := []string{
		fmt.Sprintf("egress_port=%d", egressPort),
		"version=" + version,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", cfg.IngressPort, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

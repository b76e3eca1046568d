// Command doipd runs a standalone DoIP entity: it answers UDP vehicle
// discovery, periodically broadcasts the vehicle announcement, and serves
// TCP diagnostic sessions dispatching UDS requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/doipstack/doip-entity/pkg/config"
	"github.com/doipstack/doip-entity/pkg/discovery"
	"github.com/doipstack/doip-entity/pkg/session"
	"github.com/doipstack/doip-entity/pkg/uds"
)

var (
	ecuIdentityPath = flag.String("ecu-identity", "ecu_identity.yaml", "path to the ECU identity YAML file")
	maxSockets      = flag.Int("max-sockets", 4, "maximum number of concurrent TCP diagnostic sessions")
	strictExit      = flag.Bool("strict-transfer-exit", false, "reject RequestTransferExit while bytes remain undelivered")
	debug           = flag.Bool("debug", false, "enable debug-level logging")
)

func main() {
	flag.Parse()
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := run(); err != nil {
		log.WithError(err).Error("[MAIN] fatal error")
		os.Exit(1)
	}
}

func run() error {
	identity, err := config.LoadECUIdentityFromFile(*ecuIdentityPath)
	if err != nil {
		return fmt.Errorf("loading ecu identity: %w", err)
	}

	if *maxSockets < 1 || *maxSockets > 255 {
		return fmt.Errorf("-max-sockets must be between 1 and 255, got %d", *maxSockets)
	}
	maxConcurrentSockets := byte(*maxSockets)

	registry := session.NewRegistry()

	engine, err := session.NewEngine(identity, session.EngineConfig{
		MaxConcurrentSockets: maxConcurrentSockets,
		UDS: uds.Config{
			KeyFunc:          uds.IdentityKeyFunc,
			StrictExitPolicy: *strictExit,
		},
	}, registry)
	if err != nil {
		return fmt.Errorf("starting session engine: %w", err)
	}

	responder, err := discovery.NewResponder(identity, discovery.Config{
		MaxConcurrentSockets: maxConcurrentSockets,
	}, registry)
	if err != nil {
		engine.Close()
		return fmt.Errorf("starting discovery responder: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := engine.Serve(ctx); err != nil {
			log.WithError(err).Error("[MAIN] session engine stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := responder.Serve(ctx); err != nil {
			log.WithError(err).Error("[MAIN] discovery responder stopped")
		}
	}()
	go responder.Announce(ctx, &wg)

	log.WithFields(log.Fields{
		"logical_address": fmt.Sprintf("x%04x", identity.LogicalAddress),
		"max_sockets":      maxConcurrentSockets,
	}).Info("[MAIN] doip entity running")

	<-ctx.Done()
	log.Info("[MAIN] shutting down")
	responder.Close()
	engine.Close()
	wg.Wait()
	return nil
}

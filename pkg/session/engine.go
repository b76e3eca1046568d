package session

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/doipstack/doip-entity/pkg/doip"
	"github.com/doipstack/doip-entity/pkg/entity"
	"github.com/doipstack/doip-entity/pkg/uds"
)

// EngineConfig configures the TCP session engine.
type EngineConfig struct {
	// MaxConcurrentSockets bounds how many TCP sessions may be open at
	// once. A connection accepted beyond this limit is closed immediately,
	// per spec.md §4.5's "excess connections closed, not queued" rule.
	MaxConcurrentSockets byte
	// UDS configures the per-session uds.Dispatcher.
	UDS uds.Config
}

// Engine owns the listening TCP socket and spawns one Session per accepted
// connection.
type Engine struct {
	cfg      EngineConfig
	identity entity.Identity
	registry *Registry
	logger   *log.Entry
	listener net.Listener
}

// NewEngine binds a TCP listener on doip.Port.
func NewEngine(identity entity.Identity, cfg EngineConfig, registry *Registry) (*Engine, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", doip.Port))
	if err != nil {
		return nil, fmt.Errorf("session: binding tcp port %d: %w", doip.Port, err)
	}
	return newEngine(ln, identity, cfg, registry), nil
}

func newEngine(ln net.Listener, identity entity.Identity, cfg EngineConfig, registry *Registry) *Engine {
	if cfg.MaxConcurrentSockets == 0 {
		cfg.MaxConcurrentSockets = 1
	}
	return &Engine{
		cfg:      cfg,
		identity: identity,
		registry: registry,
		logger:   log.WithField("component", "ENGINE"),
		listener: ln,
	}
}

// Registry exposes the engine's connection registry, e.g. so the discovery
// responder can be constructed with it as a discovery.LiveCounter.
func (e *Engine) Registry() *Registry { return e.registry }

// Close stops accepting new connections.
func (e *Engine) Close() error { return e.listener.Close() }

// Serve accepts connections until ctx is canceled or the listener fails.
// Each accepted connection runs its Session.Run on its own goroutine.
func (e *Engine) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.listener.Close()
	}()

	e.logger.WithField("max_concurrent_sockets", e.cfg.MaxConcurrentSockets).Info("[ENGINE] accepting diagnostic connections")
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("session: accept: %w", err)
			}
		}

		if e.registry.Count() >= int(e.cfg.MaxConcurrentSockets) {
			e.logger.WithField("remote", conn.RemoteAddr()).Warn("[ENGINE] rejecting connection, max concurrent sockets reached")
			conn.Close()
			continue
		}

		s := newSession(conn, e.registry, e.identity, e.cfg.UDS, e.cfg.MaxConcurrentSockets)
		go s.Run()
	}
}

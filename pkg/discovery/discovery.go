// Package discovery implements the stateless UDP side of DoIP: answering
// vehicle-identification / entity-status requests and periodically
// broadcasting the Vehicle Announcement, as described in spec.md §4.4.
package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/doipstack/doip-entity/pkg/doip"
	"github.com/doipstack/doip-entity/pkg/entity"
)

// LiveCounter reports how many TCP sessions are currently open, so the
// responder can answer DoipEntityStatusRequest truthfully. session.Registry
// satisfies this interface; discovery never imports session to avoid a
// dependency cycle.
type LiveCounter interface {
	Count() int
}

// Config configures the discovery responder and announcer.
type Config struct {
	MaxConcurrentSockets byte
	AnnounceInterval     time.Duration // default doip.AnnounceInterval if zero
}

// Responder answers UDP discovery requests and periodically broadcasts the
// Vehicle Announcement. It owns a single UDP socket for the lifetime of the
// process.
type Responder struct {
	identity entity.Identity
	cfg      Config
	counter  LiveCounter
	logger   *log.Entry
	conn     *net.UDPConn
}

// NewResponder binds a UDP socket on doip.Port, joined to the IPv4 broadcast
// address so discovery requests sent as broadcasts are received, and to the
// DoIP multicast group 224.0.0.1.
func NewResponder(identity entity.Identity, cfg Config, counter LiveCounter) (*Responder, error) {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = doip.AnnounceInterval
	}
	addr := &net.UDPAddr{Port: doip.Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: binding udp port %d: %w", doip.Port, err)
	}
	// Best-effort: join the DoIP multicast group. Some environments
	// (containers without CAP_NET_ADMIN) cannot do this; discovery still
	// works over broadcast, so a failure here is logged, not fatal.
	if err := joinMulticastGroup(conn); err != nil {
		log.WithError(err).Warn("[DISCOVERY] could not join multicast group 224.0.0.1, continuing with broadcast only")
	}
	return &Responder{
		identity: identity,
		cfg:      cfg,
		counter:  counter,
		logger:   log.WithField("component", "DISCOVERY"),
		conn:     conn,
	}, nil
}

// Close releases the UDP socket.
func (r *Responder) Close() error { return r.conn.Close() }

// Serve runs the request/response loop until ctx is canceled. It ignores
// any datagram whose source matches one of the host's own addresses, so
// this entity never processes its own broadcast announcements.
func (r *Responder) Serve(ctx context.Context) error {
	ownAddrs := hostAddrs()
	r.logger.Info("[DISCOVERY] listening for vehicle identification requests")

	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("discovery: reading udp datagram: %w", err)
			}
		}
		if ownAddrs[src.IP.String()] {
			continue
		}
		r.handleDatagram(buf[:n], src)
	}
}

func (r *Responder) handleDatagram(data []byte, src *net.UDPAddr) {
	if len(data) < doip.HeaderSize {
		return
	}
	hdr, err := doip.DecodeHeader(data[:doip.HeaderSize])
	if err != nil {
		r.logger.WithError(err).Debug("[DISCOVERY] dropping datagram with bad header")
		return
	}
	msg, err := doip.UnpackPayload(hdr.PayloadType, data[doip.HeaderSize:])
	if err != nil {
		r.logger.WithError(err).Debug("[DISCOVERY] dropping malformed datagram")
		return
	}

	var reply doip.Message
	switch m := msg.(type) {
	case doip.VehicleIdRequest:
		reply = r.announcement()
	case doip.VehicleIdRequestWithEID:
		if !r.identity.MatchesEID(m.EID) {
			return // per ISO: do not reveal identity to a mismatching selector
		}
		reply = r.announcement()
	case doip.VehicleIdRequestWithVIN:
		if !r.identity.MatchesVIN(m.VIN) {
			return
		}
		reply = r.announcement()
	case doip.EntityStatusRequest:
		reply = doip.EntityStatusResponse{
			NodeType:             1,
			MaxConcurrentSockets: r.cfg.MaxConcurrentSockets,
			CurrentlyOpenSockets: byte(r.counter.Count()),
		}
	default:
		reply = doip.GenericHeaderNegAck{Code: doip.HeaderNackUnknownPayloadType}
	}

	frame := doip.EncodeHeader(hdr.ProtocolVersion, reply.PayloadType(), reply.Pack())
	if _, err := r.conn.WriteToUDP(frame, src); err != nil {
		r.logger.WithError(err).Warn("[DISCOVERY] failed to send reply")
	}
}

func (r *Responder) announcement() doip.VehicleIdResponse {
	id := r.identity
	return doip.VehicleIdResponse{
		VIN:                   id.VIN,
		LogicalAddress:        id.LogicalAddress,
		EID:                   id.EID,
		GID:                   id.GID,
		FurtherActionRequired: id.FurtherActionRequired,
	}
}

// Announce runs the ISO A_DoIP_Announce_Wait burst (three broadcasts spaced
// by a random 0-500ms delay) followed by periodic re-announcement on
// cfg.AnnounceInterval, until ctx is canceled.
func (r *Responder) Announce(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	broadcast := &net.UDPAddr{IP: net.IPv4bcast, Port: doip.Port}
	send := func() {
		frame := doip.EncodeHeader(doip.ProtocolVersion2019, doip.PayloadTypeVehicleIdResponse, r.announcement().Pack())
		if _, err := r.conn.WriteToUDP(frame, broadcast); err != nil {
			r.logger.WithError(err).Warn("[DISCOVERY] failed to send vehicle announcement")
		}
	}

	for i := 0; i < doip.AnnounceBurstCount; i++ {
		delay := time.Duration(rand.Int63n(int64(doip.AnnounceWaitMax)))
		select {
		case <-time.After(delay):
			send()
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(r.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			send()
		case <-ctx.Done():
			return
		}
	}
}

func hostAddrs() map[string]bool {
	addrs := map[string]bool{}
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return addrs
	}
	for _, a := range ifaceAddrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			addrs[ipNet.IP.String()] = true
		}
	}
	return addrs
}

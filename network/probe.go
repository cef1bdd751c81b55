package network

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"p2pchat/registry"
	"p2pchat/wire"
)

// DefaultDiscoveryWindow is how long the one-shot probe collects
// responses.
const DefaultDiscoveryWindow = 5 * time.Second

// Discover runs the one-shot probe: clear the registry, announce once
// to the broadcast address, then drain inbound presence datagrams
// until the window closes. Presence from the local machine's own
// primary address is ignored. The returned snapshot is empty when
// nobody answered; Discover never blocks past the window.
//
// Discover owns the socket for its duration and must not run alongside
// Start.
func (e *Endpoint) Discover(ctx context.Context, window time.Duration) ([]registry.Peer, error) {
	if e.conn == nil {
		return nil, ErrNotBound
	}
	if window <= 0 {
		window = DefaultDiscoveryWindow
	}

	e.registry.Clear()

	if err := e.Broadcast(wire.Presence(e.cfg.Username, time.Now())); err != nil {
		// Keep draining anyway: peers announce on their own schedule.
		log.Printf("network: discovery broadcast failed: %v", err)
	}

	selfIP := e.cfg.localIP()
	deadline := time.Now().Add(window)
	buf := make([]byte, wire.MaxDatagramSize)

	for {
		if ctx.Err() != nil {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > e.cfg.ReadTimeout {
			remaining = e.cfg.ReadTimeout
		}

		_ = e.conn.SetReadDeadline(time.Now().Add(remaining))

		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			log.Printf("network: discovery read error: %v", err)
			continue
		}

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		if msg.Kind != wire.KindPresence {
			continue
		}
		if from.IP.String() == selfIP {
			continue
		}

		e.registry.Upsert(from.String(), msg.Username, time.Now())
	}

	return e.registry.Snapshot(), nil
}

package network

import (
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"p2pchat/registry"
	"p2pchat/wire"
)

// Handlers receives decoded, filtered protocol events. Nil fields are
// skipped. Handlers run on the dispatch worker pool, so one slow
// handler delays at most one worker, never the receive loop.
type Handlers struct {
	// OnChat receives chat text addressed to the local user.
	OnChat func(from *net.UDPAddr, msg wire.Message)
	// OnCommand receives chat text addressed to the local user whose
	// body starts with the command sigil '/'.
	OnCommand func(from *net.UDPAddr, msg wire.Message)
	// OnTyping receives typing indicators addressed to the local user.
	OnTyping func(from *net.UDPAddr, msg wire.Message)
	// OnReadReceipt receives read notices addressed to the local user.
	OnReadReceipt func(from *net.UDPAddr, msg wire.Message)
	// OnFileOffer receives file offers addressed to the local user.
	OnFileOffer func(from *net.UDPAddr, msg wire.Message)
	// OnPeerDisconnected fires after a known peer announced disconnect
	// and was removed from the registry.
	OnPeerDisconnected func(from *net.UDPAddr, peer registry.Peer)
}

// dispatch classifies one inbound datagram and invokes the matching
// handler. Decode failures are logged and dropped; unknown kinds are
// ignored silently for forward compatibility. No network-origin input
// may crash the process.
func (e *Endpoint) dispatch(payload []byte, from *net.UDPAddr) {
	msg, err := wire.Decode(payload)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownKind) {
			return
		}
		log.Printf("network: invalid datagram from %s: %v", from, err)
		return
	}

	addr := from.String()
	now := time.Now()

	switch msg.Kind {
	case wire.KindPresence:
		// Broadcast presence is addressed to everyone; no filter.
		e.registry.Upsert(addr, msg.Username, now)

	case wire.KindChat:
		e.registry.Upsert(addr, msg.From, now)
		if msg.To != e.cfg.Username {
			return
		}
		if strings.HasPrefix(msg.Text, "/") {
			invoke(e.cfg.Handlers.OnCommand, from, msg)
			return
		}
		invoke(e.cfg.Handlers.OnChat, from, msg)

	case wire.KindTyping:
		e.registry.Upsert(addr, msg.From, now)
		if msg.To != e.cfg.Username {
			return
		}
		invoke(e.cfg.Handlers.OnTyping, from, msg)

	case wire.KindReadReceipt:
		e.registry.Upsert(addr, msg.From, now)
		if msg.To != e.cfg.Username {
			return
		}
		invoke(e.cfg.Handlers.OnReadReceipt, from, msg)

	case wire.KindFileOffer:
		e.registry.Upsert(addr, msg.From, now)
		if msg.To != e.cfg.Username {
			return
		}
		invoke(e.cfg.Handlers.OnFileOffer, from, msg)

	case wire.KindDisconnect:
		peer, known := e.registry.Remove(addr)
		if !known {
			return
		}
		if handler := e.cfg.Handlers.OnPeerDisconnected; handler != nil {
			handler(from, peer)
		}
	}
}

func invoke(handler func(*net.UDPAddr, wire.Message), from *net.UDPAddr, msg wire.Message) {
	if handler != nil {
		handler(from, msg)
	}
}

// Package session implements the single-active-conversation state
// machine on top of the datagram protocol.
//
// A session is Idle or Active toward exactly one partner address. The
// partner address, not the display name, is the canonical identity
// key: names only gate which inbound traffic is rendered. All state is
// mutex-guarded because the dispatch workers and the input loop touch
// it concurrently.
package session

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"p2pchat/network"
	"p2pchat/registry"
	"p2pchat/storage"
	"p2pchat/wire"
)

// DefaultTypingInterval rate-limits outbound typing indicators.
const DefaultTypingInterval = 3 * time.Second

var (
	// ErrNoActiveChat indicates a send with no conversation partner.
	ErrNoActiveChat = errors.New("session: no active chat")
	// ErrUnknownPeer indicates /msg named an address missing from the
	// registry.
	ErrUnknownPeer = errors.New("session: unknown peer")
	// ErrFileNotFound indicates a file-offer source path that does not
	// resolve.
	ErrFileNotFound = errors.New("session: file not found")
	// ErrNoPendingOffer indicates accept/reject with nothing offered.
	ErrNoPendingOffer = errors.New("session: no pending file offer")
)

// Transport sends protocol datagrams. *network.Endpoint satisfies it.
type Transport interface {
	Send(msg wire.Message, to *net.UDPAddr) error
}

// Renderer presents session output. The protocol core never prints
// directly; ui.Console satisfies this.
type Renderer interface {
	Inbound(ts time.Time, sender, text string)
	Own(ts time.Time, text string)
	Notice(text string)
	Warn(text string)
	TypingIndicator(name string)
	ReadNotice(name string)
	PeerList(peers []registry.Peer, now time.Time)
	FileOfferPrompt(offer Offer)
	Transcript(messages []storage.Message)
	Help()
	Clear()
}

// Offer is an inbound file offer awaiting an accept/reject decision.
// It is metadata only; payload transport is out of scope here.
type Offer struct {
	ID       string
	From     string
	Addr     *net.UDPAddr
	Filename string
	Size     int64
	Hash     string
}

// Options configures a session.
type Options struct {
	Username string
	// Port fills in missing ports on /msg arguments.
	Port int

	Transport Transport
	Registry  *registry.Registry
	Renderer  Renderer

	// Store persists the transcript when non-nil. The state machine
	// works identically without it.
	Store *storage.Store

	TypingInterval time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Session holds the conversation state machine.
type Session struct {
	opts Options

	mu           sync.Mutex
	partner      *net.UDPAddr
	partnerName  string
	lastTyping   time.Time
	pendingOffer *Offer
}

// New creates an idle session.
func New(opts Options) *Session {
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Session{opts: opts}
}

// Active returns the current partner address, or "" when idle.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partner == nil {
		return ""
	}
	return s.partner.String()
}

// Connect enters Active toward the given peer, registers it, and
// announces presence to it directly so the peer learns this address
// without waiting for the next broadcast.
func (s *Session) Connect(addr *net.UDPAddr, name string) {
	now := s.opts.Clock()

	s.mu.Lock()
	s.partner = addr
	s.partnerName = name
	s.mu.Unlock()

	s.opts.Registry.Upsert(addr.String(), name, now)

	if err := s.opts.Transport.Send(wire.Presence(s.opts.Username, now), addr); err != nil {
		log.Printf("session: presence send to %s failed: %v", addr, err)
	}

	s.opts.Renderer.Notice(fmt.Sprintf("Connected to %s@%s", name, addr))
	s.opts.Renderer.Notice("Type /help for commands")
}

// Quit leaves the active chat, telling the partner first. Idle quits
// are a no-op.
func (s *Session) Quit() {
	s.mu.Lock()
	partner := s.partner
	name := s.partnerName
	s.partner = nil
	s.partnerName = ""
	s.mu.Unlock()

	if partner == nil {
		return
	}

	if err := s.opts.Transport.Send(wire.Disconnect(s.opts.Username, s.opts.Clock()), partner); err != nil {
		log.Printf("session: disconnect send to %s failed: %v", partner, err)
	}
	s.opts.Renderer.Notice(fmt.Sprintf("Left chat with %s", name))
}

// SendText sends chat text to the active partner with a local echo. A
// typing indicator precedes it at most once per TypingInterval of
// continuous input.
func (s *Session) SendText(text string) error {
	now := s.opts.Clock()

	s.mu.Lock()
	partner := s.partner
	name := s.partnerName
	sendTyping := now.Sub(s.lastTyping) > s.opts.TypingInterval
	if sendTyping {
		s.lastTyping = now
	}
	s.mu.Unlock()

	if partner == nil {
		return ErrNoActiveChat
	}

	if sendTyping {
		if err := s.opts.Transport.Send(wire.Typing(s.opts.Username, name, now), partner); err != nil {
			log.Printf("session: typing send to %s failed: %v", partner, err)
		}
	}

	if err := s.opts.Transport.Send(wire.Chat(s.opts.Username, name, text, now), partner); err != nil {
		return err
	}

	s.opts.Renderer.Own(now, text)
	s.record(storage.Message{
		PeerAddr:  partner.String(),
		PeerName:  name,
		Direction: storage.DirectionSent,
		Body:      text,
		SentAt:    now,
	})
	return nil
}

// HandleChat processes an inbound chat message addressed to the local
// user. While idle, the sender is adopted as the new active partner.
// A read receipt is returned to the sender once the text is rendered.
func (s *Session) HandleChat(from *net.UDPAddr, msg wire.Message) {
	now := s.opts.Clock()

	s.mu.Lock()
	if s.partner == nil {
		s.partner = from
		s.partnerName = msg.From
	}
	s.mu.Unlock()

	s.opts.Renderer.Inbound(msg.Time(), fmt.Sprintf("%s@%s", msg.From, from.IP), msg.Text)

	if err := s.opts.Transport.Send(wire.ReadReceipt(s.opts.Username, msg.From, now), from); err != nil {
		log.Printf("session: read receipt to %s failed: %v", from, err)
	}

	s.record(storage.Message{
		PeerAddr:  from.String(),
		PeerName:  msg.From,
		Direction: storage.DirectionReceived,
		Body:      msg.Text,
		SentAt:    msg.Time(),
	})
}

// HandleRemoteCommand processes chat text carrying the command sigil.
// Only /quit has remote meaning: the partner is leaving the chat.
// Everything else is local-only and ignored when received off the
// wire.
func (s *Session) HandleRemoteCommand(from *net.UDPAddr, msg wire.Message) {
	if msg.Text != "/quit" {
		log.Printf("session: ignoring remote command %q from %s", msg.Text, from)
		return
	}

	s.mu.Lock()
	active := s.partner != nil && udpAddrEqual(s.partner, from)
	name := s.partnerName
	if active {
		s.partner = nil
		s.partnerName = ""
	}
	s.mu.Unlock()

	if active {
		s.opts.Renderer.Notice(fmt.Sprintf("%s left the chat", name))
	}
}

// HandleTyping renders the ephemeral typing indicator.
func (s *Session) HandleTyping(_ *net.UDPAddr, msg wire.Message) {
	s.opts.Renderer.TypingIndicator(msg.From)
}

// HandleReadReceipt renders a delivery notice.
func (s *Session) HandleReadReceipt(_ *net.UDPAddr, msg wire.Message) {
	s.opts.Renderer.ReadNotice(msg.From)
}

// HandlePeerDisconnected reacts to a disconnect datagram after the
// dispatcher removed the peer from the registry.
func (s *Session) HandlePeerDisconnected(from *net.UDPAddr, peer registry.Peer) {
	s.mu.Lock()
	wasPartner := s.partner != nil && udpAddrEqual(s.partner, from)
	if wasPartner {
		s.partner = nil
		s.partnerName = ""
	}
	s.mu.Unlock()

	s.opts.Renderer.Notice(fmt.Sprintf("%s@%s has disconnected", peer.Username, from.IP))
}

// switchTo points the session at a known registry entry. The argument
// may omit the port, which defaults from Options.Port. An unknown
// address leaves the state unchanged.
func (s *Session) switchTo(target string) error {
	addr, err := network.ResolvePeerAddr(target, s.opts.Port)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}

	peer, ok := s.opts.Registry.Get(addr.String())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}

	s.mu.Lock()
	s.partner = addr
	s.partnerName = peer.Username
	s.mu.Unlock()

	s.opts.Renderer.Notice(fmt.Sprintf("Now chatting with %s@%s", peer.Username, addr))
	return nil
}

func (s *Session) record(msg storage.Message) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.AppendMessage(msg); err != nil {
		log.Printf("session: history write failed: %v", err)
	}
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

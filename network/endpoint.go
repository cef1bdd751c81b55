// Package network owns the shared UDP socket: the receive loop and its
// worker pool, the periodic presence broadcaster, and the one-shot
// discovery probe. It decodes datagrams and hands protocol events to
// the layer above through handler callbacks; it performs no rendering
// or interactive input of its own.
package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"p2pchat/registry"
	"p2pchat/wire"
)

const (
	// DefaultPort is the well-known chat port shared by all peers.
	DefaultPort = 5000
	// DefaultBroadcastInterval is the presence announcement period.
	DefaultBroadcastInterval = 30 * time.Second
	// DefaultBroadcastRetryDelay is the back-off after a failed send.
	DefaultBroadcastRetryDelay = 5 * time.Second
	// DefaultReadTimeout bounds each socket read so the shutdown
	// context is rechecked at least once per second.
	DefaultReadTimeout = 1 * time.Second
	// DefaultWorkers is the inbound dispatch pool size.
	DefaultWorkers = 4
	// DefaultQueueSize is the inbound dispatch queue depth. Datagrams
	// arriving while the queue is full are dropped, never buffered
	// unboundedly.
	DefaultQueueSize = 64
)

// ErrNotBound indicates a send or receive before Bind.
var ErrNotBound = errors.New("network: endpoint is not bound")

// Config controls endpoint behavior. Zero durations and counts take
// the package defaults.
type Config struct {
	// Port is the shared UDP port; also the destination port for
	// broadcasts.
	Port int
	// Username is the local display name announced in presence
	// datagrams and matched against inbound recipient filters.
	Username string

	BroadcastInterval   time.Duration
	BroadcastRetryDelay time.Duration
	ReadTimeout         time.Duration
	Workers             int
	QueueSize           int

	// AnnouncePresence starts the periodic broadcaster with the
	// receive loop. Discovery mode leaves it off.
	AnnouncePresence bool

	Registry *registry.Registry
	Handlers Handlers

	// localIP overrides primary-address detection in tests.
	localIP func() string
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.BroadcastRetryDelay <= 0 {
		c.BroadcastRetryDelay = DefaultBroadcastRetryDelay
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Registry == nil {
		c.Registry = registry.New()
	}
	if c.localIP == nil {
		c.localIP = LocalIP
	}
	return c
}

type datagram struct {
	payload []byte
	from    *net.UDPAddr
}

// Endpoint is the shared datagram socket plus its service goroutines.
type Endpoint struct {
	cfg      Config
	registry *registry.Registry

	conn      *net.UDPConn
	broadcast *net.UDPAddr

	jobs chan datagram

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates an endpoint with defaults applied. Bind must be called
// before any send, receive, or Start.
func New(cfg Config) *Endpoint {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		cfg:      cfg,
		registry: cfg.Registry,
		broadcast: &net.UDPAddr{
			IP:   net.IPv4bcast,
			Port: cfg.Port,
		},
		jobs:   make(chan datagram, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetHandlers installs the protocol event callbacks. It must be called
// before Start; the dispatch workers read the handler set without
// locking.
func (e *Endpoint) SetHandlers(h Handlers) {
	e.cfg.Handlers = h
}

// Registry returns the peer table the endpoint writes into.
func (e *Endpoint) Registry() *registry.Registry {
	return e.registry
}

// Username returns the local display name.
func (e *Endpoint) Username() string {
	return e.cfg.Username
}

// Bind opens the shared UDP socket on all interfaces. A failure here
// is fatal to startup: the port is in use or inaccessible.
func (e *Endpoint) Bind() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: e.cfg.Port,
	})
	if err != nil {
		return fmt.Errorf("bind UDP port %d: %w", e.cfg.Port, err)
	}
	e.conn = conn
	return nil
}

// BindAny opens the socket on an ephemeral port instead of the shared
// one. Used by the discovery probe when the well-known port is taken
// by a local listener.
func (e *Endpoint) BindAny() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return fmt.Errorf("bind ephemeral UDP port: %w", err)
	}
	e.conn = conn
	return nil
}

// LocalAddr returns the bound socket address, or nil before Bind.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	if e.conn == nil {
		return nil
	}
	addr, _ := e.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Start launches the receive loop, the dispatch workers, and (when
// configured) the presence broadcaster. It returns immediately.
func (e *Endpoint) Start() error {
	if e.conn == nil {
		return ErrNotBound
	}

	e.startOnce.Do(func() {
		for i := 0; i < e.cfg.Workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}

		e.wg.Add(1)
		go e.receiveLoop()

		if e.cfg.AnnouncePresence {
			e.wg.Add(1)
			go e.broadcastLoop()
		}
	})
	return nil
}

// Stop terminates all loops and closes the socket exactly once. It is
// safe to call multiple times and on an endpoint that never started.
func (e *Endpoint) Stop() {
	e.cancel()
	e.closeOnce.Do(func() {
		if e.conn != nil {
			_ = e.conn.Close()
		}
	})
	e.wg.Wait()
}

// Send encodes and transmits one message to a specific peer address.
// Transient failures are returned, not retried.
func (e *Endpoint) Send(msg wire.Message, to *net.UDPAddr) error {
	if e.conn == nil {
		return ErrNotBound
	}

	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(payload, to); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Kind, to, err)
	}
	return nil
}

// Broadcast encodes and transmits one message to the network broadcast
// address on the shared port.
func (e *Endpoint) Broadcast(msg wire.Message) error {
	if e.conn == nil {
		return ErrNotBound
	}

	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(payload, e.broadcast); err != nil {
		return fmt.Errorf("broadcast %s: %w", msg.Kind, err)
	}
	return nil
}

// receiveLoop reads datagrams and queues them for the worker pool. A
// short read deadline keeps the shutdown context observed within one
// polling interval.
func (e *Endpoint) receiveLoop() {
	defer e.wg.Done()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		if e.ctx.Err() != nil {
			return
		}

		_ = e.conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))

		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if e.ctx.Err() != nil {
				return
			}
			log.Printf("network: read error: %v", err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case e.jobs <- datagram{payload: payload, from: from}:
		default:
			log.Printf("network: dispatch queue full, dropping datagram from %s", from)
		}
	}
}

func (e *Endpoint) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case job := <-e.jobs:
			e.dispatch(job.payload, job.from)
		}
	}
}

// broadcastLoop announces presence every BroadcastInterval for the
// endpoint lifetime, backing off BroadcastRetryDelay after a failed
// send instead of terminating.
func (e *Endpoint) broadcastLoop() {
	defer e.wg.Done()

	for {
		delay := e.cfg.BroadcastInterval
		if err := e.Broadcast(wire.Presence(e.cfg.Username, time.Now())); err != nil {
			if e.ctx.Err() == nil {
				log.Printf("network: presence broadcast failed: %v", err)
			}
			delay = e.cfg.BroadcastRetryDelay
		}

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// ResolvePeerAddr parses a peer address given as "host" or
// "host:port", filling in defaultPort when no port is present.
func ResolvePeerAddr(addr string, defaultPort int) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = strconv.Itoa(defaultPort)
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, portStr))
	if err != nil {
		return nil, fmt.Errorf("resolve peer address %q: %w", addr, err)
	}
	return udpAddr, nil
}

// LocalIP returns the machine's primary outbound IPv4 address, falling
// back to loopback when no route exists.
func LocalIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

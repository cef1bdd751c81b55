// Package discovery supplements UDP broadcast presence with mDNS.
//
// Broadcast datagrams remain the canonical presence protocol; mDNS is
// an assist for networks that filter broadcast traffic. The listener
// registers a service instance carrying the local identity in TXT
// records, and the discover command can browse for instances and merge
// them into the same peer registry the broadcast path feeds.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"p2pchat/registry"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_p2pchat._udp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultBrowseTimeout bounds one browse operation.
	DefaultBrowseTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls mDNS announcement and browsing.
type Config struct {
	Service string
	Domain  string
	Version int

	// DeviceID distinguishes instances sharing a display name and
	// filters out the local machine's own announcement.
	DeviceID string
	Username string
	Port     int

	BrowseTimeout time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.BrowseTimeout <= 0 {
		out.BrowseTimeout = DefaultBrowseTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForAnnounce() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("device ID is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("username is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

// Announcer advertises the local chat endpoint via mDNS.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers the local service instance.
func Announce(config Config) (*Announcer, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAnnounce(); err != nil {
		return nil, err
	}

	txt := []string{
		"device_id=" + cfg.DeviceID,
		"username=" + cfg.Username,
		"version=" + strconv.Itoa(cfg.Version),
	}

	server, err := cfg.registerFn(cfg.Username, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Announcer{server: server}, nil
}

// Stop withdraws the announcement.
func (a *Announcer) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Found is one browsed peer endpoint.
type Found struct {
	DeviceID string
	Username string
	Addrs    []string
	Port     int
}

// Browse performs one bounded mDNS scan and returns the peers found,
// excluding the local device ID. A timeout is the normal way a scan
// ends and is not reported as an error.
func Browse(ctx context.Context, config Config) ([]Found, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("device ID is required")
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Found)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				found, ok := parseEntry(entry, cfg.DeviceID)
				if !ok {
					continue
				}
				collected[found.DeviceID] = found
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}

	<-scanCtx.Done()
	<-collectorDone

	out := make([]Found, 0, len(collected))
	for _, found := range collected {
		out = append(out, found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	if err := scanCtx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return out, nil
}

// MergeInto upserts browsed endpoints into the broadcast peer
// registry, one entry per advertised address.
func MergeInto(reg *registry.Registry, found []Found, now time.Time) {
	for _, peer := range found {
		for _, ip := range peer.Addrs {
			addr := net.JoinHostPort(ip, strconv.Itoa(peer.Port))
			reg.Upsert(addr, peer.Username, now)
		}
	}
}

func parseEntry(entry *zeroconf.ServiceEntry, selfDeviceID string) (Found, bool) {
	txt := txtToMap(entry.Text)

	deviceID := strings.TrimSpace(txt["device_id"])
	if deviceID == "" || deviceID == selfDeviceID {
		return Found{}, false
	}

	username := strings.TrimSpace(txt["username"])
	if username == "" {
		username = strings.TrimSpace(entry.Instance)
	}
	if username == "" {
		username = deviceID
	}

	addrs := make([]string, 0, len(entry.AddrIPv4))
	seen := make(map[string]struct{})
	for _, ip := range entry.AddrIPv4 {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addrs = append(addrs, raw)
	}
	sort.Strings(addrs)

	if len(addrs) == 0 || entry.Port <= 0 {
		return Found{}, false
	}

	return Found{
		DeviceID: deviceID,
		Username: username,
		Addrs:    addrs,
		Port:     entry.Port,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}

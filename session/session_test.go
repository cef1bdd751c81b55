package session

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"p2pchat/registry"
	"p2pchat/storage"
	"p2pchat/wire"
)

type sentMessage struct {
	msg wire.Message
	to  *net.UDPAddr
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransport) Send(msg wire.Message, to *net.UDPAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{msg: msg, to: to})
	return nil
}

func (f *fakeTransport) byKind(kind wire.Kind) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, s := range f.sent {
		if s.msg.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeRenderer struct {
	mu       sync.Mutex
	inbound  []string
	own      []string
	notices  []string
	warnings []string
	typing   []string
	offers   []Offer
	cleared  int
	helped   int
}

func (f *fakeRenderer) Inbound(_ time.Time, sender, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, sender+": "+text)
}
func (f *fakeRenderer) Own(_ time.Time, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.own = append(f.own, text)
}
func (f *fakeRenderer) Notice(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
}
func (f *fakeRenderer) Warn(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, text)
}
func (f *fakeRenderer) TypingIndicator(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, name)
}
func (f *fakeRenderer) ReadNotice(string)                         {}
func (f *fakeRenderer) PeerList([]registry.Peer, time.Time)       {}
func (f *fakeRenderer) FileOfferPrompt(offer Offer)               { f.offers = append(f.offers, offer) }
func (f *fakeRenderer) Transcript([]storage.Message)              {}
func (f *fakeRenderer) Help()                                     { f.helped++ }
func (f *fakeRenderer) Clear()                                    { f.cleared++ }

type fixture struct {
	session   *Session
	transport *fakeTransport
	renderer  *fakeRenderer
	registry  *registry.Registry
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		transport: &fakeTransport{},
		renderer:  &fakeRenderer{},
		registry:  registry.New(),
		now:       time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.session = New(Options{
		Username:  "bob",
		Port:      5000,
		Transport: f.transport,
		Registry:  f.registry,
		Renderer:  f.renderer,
		Clock:     func() time.Time { return f.now },
	})
	return f
}

func peerAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		t.Fatalf("resolve %q: %v", s, err)
	}
	return addr
}

func TestAutoAdoptOnInboundChatWhileIdle(t *testing.T) {
	f := newFixture(t)
	from := peerAddr(t, "10.0.0.2:5000")

	if f.session.Active() != "" {
		t.Fatal("session should start idle")
	}

	f.session.HandleChat(from, wire.Chat("alice", "bob", "hello", f.now))

	if got := f.session.Active(); got != "10.0.0.2:5000" {
		t.Fatalf("active = %q, want 10.0.0.2:5000", got)
	}
	if len(f.renderer.inbound) != 1 {
		t.Fatalf("inbound renders = %d, want 1", len(f.renderer.inbound))
	}

	// Rendering the text sends a read receipt back to the sender.
	receipts := f.transport.byKind(wire.KindReadReceipt)
	if len(receipts) != 1 || receipts[0].to.String() != "10.0.0.2:5000" {
		t.Fatalf("read receipts = %+v", receipts)
	}
}

func TestInboundChatFromOthersDoesNotStealSession(t *testing.T) {
	f := newFixture(t)
	partner := peerAddr(t, "10.0.0.2:5000")
	other := peerAddr(t, "10.0.0.3:5000")

	f.session.HandleChat(partner, wire.Chat("alice", "bob", "first", f.now))
	f.session.HandleChat(other, wire.Chat("carol", "bob", "second", f.now))

	if got := f.session.Active(); got != "10.0.0.2:5000" {
		t.Fatalf("active = %q, want the first sender", got)
	}
	// Both messages still render.
	if len(f.renderer.inbound) != 2 {
		t.Fatalf("inbound renders = %d, want 2", len(f.renderer.inbound))
	}
}

func TestDisconnectFromPartnerClearsSession(t *testing.T) {
	f := newFixture(t)
	from := peerAddr(t, "10.0.0.2:5000")

	f.session.HandleChat(from, wire.Chat("alice", "bob", "hello", f.now))
	f.session.HandlePeerDisconnected(from, registry.Peer{Addr: from.String(), Username: "alice"})

	if got := f.session.Active(); got != "" {
		t.Fatalf("active = %q, want idle", got)
	}
}

func TestDisconnectFromOtherPeerKeepsSession(t *testing.T) {
	f := newFixture(t)
	partner := peerAddr(t, "10.0.0.2:5000")
	other := peerAddr(t, "10.0.0.3:5000")

	f.session.HandleChat(partner, wire.Chat("alice", "bob", "hello", f.now))
	f.session.HandlePeerDisconnected(other, registry.Peer{Addr: other.String(), Username: "carol"})

	if got := f.session.Active(); got != "10.0.0.2:5000" {
		t.Fatalf("active = %q, want partner retained", got)
	}
}

func TestMsgCommandUnknownAddressLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)

	f.session.HandleInput("/msg 10.0.0.9")

	if f.session.Active() != "" {
		t.Fatal("unknown /msg target must not activate a session")
	}
	if len(f.renderer.warnings) == 0 {
		t.Fatal("expected an error report")
	}
}

func TestMsgCommandSwitchesToKnownPeer(t *testing.T) {
	f := newFixture(t)
	f.registry.Upsert("10.0.0.2:5000", "alice", f.now)

	// The port may be omitted and defaults from config.
	f.session.HandleInput("/msg 10.0.0.2")

	if got := f.session.Active(); got != "10.0.0.2:5000" {
		t.Fatalf("active = %q, want 10.0.0.2:5000", got)
	}
}

func TestSendTextRequiresActiveChat(t *testing.T) {
	f := newFixture(t)

	if err := f.session.SendText("hello?"); !errors.Is(err, ErrNoActiveChat) {
		t.Fatalf("err = %v, want ErrNoActiveChat", err)
	}
}

func TestSendTextEchoesAndSends(t *testing.T) {
	f := newFixture(t)
	f.session.Connect(peerAddr(t, "10.0.0.2:5000"), "alice")

	if err := f.session.SendText("hello alice"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	chats := f.transport.byKind(wire.KindChat)
	if len(chats) != 1 {
		t.Fatalf("chat sends = %d, want 1", len(chats))
	}
	if chats[0].msg.From != "bob" || chats[0].msg.To != "alice" || chats[0].msg.Text != "hello alice" {
		t.Fatalf("sent chat = %+v", chats[0].msg)
	}
	if len(f.renderer.own) != 1 || f.renderer.own[0] != "hello alice" {
		t.Fatalf("local echo = %v", f.renderer.own)
	}
}

func TestTypingIndicatorRateLimit(t *testing.T) {
	f := newFixture(t)
	f.session.Connect(peerAddr(t, "10.0.0.2:5000"), "alice")

	f.session.SendText("one")
	f.now = f.now.Add(time.Second)
	f.session.SendText("two")
	f.now = f.now.Add(time.Second)
	f.session.SendText("three")

	if got := len(f.transport.byKind(wire.KindTyping)); got != 1 {
		t.Fatalf("typing sends within 3s = %d, want 1", got)
	}

	f.now = f.now.Add(4 * time.Second)
	f.session.SendText("four")

	if got := len(f.transport.byKind(wire.KindTyping)); got != 2 {
		t.Fatalf("typing sends after interval = %d, want 2", got)
	}
}

func TestQuitSendsDisconnectFirst(t *testing.T) {
	f := newFixture(t)
	f.session.Connect(peerAddr(t, "10.0.0.2:5000"), "alice")

	if cont := f.session.HandleInput("/quit"); cont {
		t.Fatal("/quit must end the session loop")
	}

	if f.session.Active() != "" {
		t.Fatal("session still active after /quit")
	}
	discs := f.transport.byKind(wire.KindDisconnect)
	if len(discs) != 1 || discs[0].to.String() != "10.0.0.2:5000" {
		t.Fatalf("disconnect sends = %+v", discs)
	}
}

func TestRemoteQuitCommandClearsSession(t *testing.T) {
	f := newFixture(t)
	partner := peerAddr(t, "10.0.0.2:5000")
	f.session.Connect(partner, "alice")

	f.session.HandleRemoteCommand(partner, wire.Chat("alice", "bob", "/quit", f.now))

	if f.session.Active() != "" {
		t.Fatal("remote /quit must clear the session")
	}
}

func TestRemoteQuitFromNonPartnerIgnored(t *testing.T) {
	f := newFixture(t)
	f.session.Connect(peerAddr(t, "10.0.0.2:5000"), "alice")

	f.session.HandleRemoteCommand(peerAddr(t, "10.0.0.3:5000"), wire.Chat("carol", "bob", "/quit", f.now))

	if f.session.Active() != "10.0.0.2:5000" {
		t.Fatal("non-partner /quit must not clear the session")
	}
}

func TestSendFileOfferMissingFile(t *testing.T) {
	f := newFixture(t)
	f.session.Connect(peerAddr(t, "10.0.0.2:5000"), "alice")

	err := f.session.SendFileOffer(filepath.Join(t.TempDir(), "does-not-exist.bin"))
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
	if f.session.Active() != "10.0.0.2:5000" {
		t.Fatal("failed offer must not change session state")
	}
}

func TestSendFileOfferCarriesMetadata(t *testing.T) {
	f := newFixture(t)
	f.session.Connect(peerAddr(t, "10.0.0.2:5000"), "alice")

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("file offer payload"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if err := f.session.SendFileOffer(path); err != nil {
		t.Fatalf("SendFileOffer failed: %v", err)
	}

	offers := f.transport.byKind(wire.KindFileOffer)
	if len(offers) != 1 {
		t.Fatalf("offer sends = %d, want 1", len(offers))
	}
	msg := offers[0].msg
	if msg.Filename != "notes.txt" {
		t.Fatalf("filename = %q, want basename only", msg.Filename)
	}
	if msg.Size != int64(len("file offer payload")) {
		t.Fatalf("size = %d", msg.Size)
	}
	if len(msg.Hash) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(msg.Hash))
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "nested", "b.bin")
	if err := os.WriteFile(pathA, []byte("identical content"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(pathB), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(pathB, []byte("identical content"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	hashA, err := HashFile(pathA)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	hashB, err := HashFile(pathB)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("same content hashed differently: %s vs %s", hashA, hashB)
	}

	pathC := filepath.Join(dir, "c.bin")
	if err := os.WriteFile(pathC, []byte("different content"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	hashC, err := HashFile(pathC)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if hashC == hashA {
		t.Fatal("different content produced identical digest")
	}
}

func TestAcceptAndRejectOffers(t *testing.T) {
	f := newFixture(t)
	from := peerAddr(t, "10.0.0.2:5000")

	if err := f.session.AcceptOffer(); !errors.Is(err, ErrNoPendingOffer) {
		t.Fatalf("err = %v, want ErrNoPendingOffer", err)
	}

	f.session.HandleFileOffer(from, wire.FileOffer("alice", "bob", "notes.txt", 1024, "ab12", f.now))
	if len(f.renderer.offers) != 1 {
		t.Fatalf("offer prompts = %d, want 1", len(f.renderer.offers))
	}

	if err := f.session.AcceptOffer(); err != nil {
		t.Fatalf("AcceptOffer failed: %v", err)
	}

	replies := f.transport.byKind(wire.KindChat)
	if len(replies) != 1 || replies[0].to.String() != "10.0.0.2:5000" {
		t.Fatalf("offer replies = %+v", replies)
	}

	// The decision consumes the offer.
	if err := f.session.RejectOffer(); !errors.Is(err, ErrNoPendingOffer) {
		t.Fatalf("err = %v, want ErrNoPendingOffer", err)
	}
}

func TestUnknownLocalCommandWarns(t *testing.T) {
	f := newFixture(t)

	f.session.HandleInput("/teleport home")

	if len(f.renderer.warnings) != 1 {
		t.Fatalf("warnings = %v", f.renderer.warnings)
	}
}

// Package ui renders session output to the terminal and reads local
// input lines. It is the presentation layer: the protocol core never
// prints or prompts, it calls into the session.Renderer interface that
// Console implements.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"p2pchat/registry"
	"p2pchat/session"
	"p2pchat/storage"
)

var (
	styleInbound = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleOwn     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleNotice  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Faint(true)
)

// Console writes styled session output to a terminal.
type Console struct {
	out io.Writer
}

// NewConsole creates a console writing to w; nil means stdout.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{out: w}
}

// Inbound renders a received chat line.
func (c *Console) Inbound(ts time.Time, sender, text string) {
	prefix := styleInbound.Render(fmt.Sprintf("[%s] %s:", ts.Format("15:04:05"), sender))
	fmt.Fprintf(c.out, "\n%s %s\n", prefix, text)
}

// Own echoes a locally sent chat line.
func (c *Console) Own(ts time.Time, text string) {
	prefix := styleOwn.Render(fmt.Sprintf("[%s] You:", ts.Format("15:04:05")))
	fmt.Fprintf(c.out, "\r%s %s\n", prefix, text)
}

// Notice renders an informational line.
func (c *Console) Notice(text string) {
	fmt.Fprintf(c.out, "%s\n", styleNotice.Render(text))
}

// Warn renders an error line.
func (c *Console) Warn(text string) {
	fmt.Fprintf(c.out, "%s\n", styleWarn.Render(text))
}

// TypingIndicator overwrites the current line with an ephemeral
// typing notice.
func (c *Console) TypingIndicator(name string) {
	fmt.Fprintf(c.out, "\r%s", styleNotice.Render(name+" is typing..."))
}

// ReadNotice renders a read receipt.
func (c *Console) ReadNotice(name string) {
	fmt.Fprintf(c.out, "\n%s\n", styleDim.Render("[Message read by "+name+"]"))
}

// PeerList renders the registry snapshot with derived liveness.
func (c *Console) PeerList(peers []registry.Peer, now time.Time) {
	fmt.Fprintf(c.out, "\n%s\n", styleHeader.Render("Available peers:"))
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "  No peers discovered")
		fmt.Fprintln(c.out)
		return
	}
	for _, peer := range peers {
		status := "Inactive"
		if peer.ActiveAt(now) {
			status = "Active"
		}
		fmt.Fprintf(c.out, "  %s @ %s [%s]\n", peer.Username, peer.Addr, status)
	}
	fmt.Fprintln(c.out)
}

// FileOfferPrompt surfaces an inbound offer for a decision.
func (c *Console) FileOfferPrompt(offer session.Offer) {
	hash := offer.Hash
	if len(hash) > 16 {
		hash = hash[:16] + "..."
	}
	fmt.Fprintf(c.out, "\n%s\n", styleInbound.Render(fmt.Sprintf("File offer from %s@%s:", offer.From, offer.Addr.IP)))
	fmt.Fprintf(c.out, "  Filename: %s\n", offer.Filename)
	fmt.Fprintf(c.out, "  Size: %d bytes\n", offer.Size)
	fmt.Fprintf(c.out, "  Hash: %s\n", hash)
	fmt.Fprintf(c.out, "%s\n", styleNotice.Render("Accept with /accept or decline with /reject"))
}

// Transcript renders stored history lines, oldest first.
func (c *Console) Transcript(messages []storage.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(c.out, "  No history with this peer")
		return
	}
	for _, msg := range messages {
		who := msg.PeerName
		if msg.Direction == storage.DirectionSent {
			who = "You"
		}
		fmt.Fprintf(c.out, "%s %s: %s\n",
			styleDim.Render(msg.SentAt.Format("2006-01-02 15:04:05")), who, msg.Body)
	}
}

// Help lists the in-session commands.
func (c *Console) Help() {
	fmt.Fprintf(c.out, "\n%s\n", styleHeader.Render("Available commands:"))
	fmt.Fprint(c.out, `  /msg <address>   - Switch chat to a known peer
  /list            - List discovered peers
  /sendfile <path> - Offer a file to the current peer
  /accept          - Accept the pending file offer
  /reject          - Reject the pending file offer
  /history         - Show recent messages with the current peer
  /clear           - Clear the screen
  /help            - Show this help
  /quit            - Leave the chat
`)
}

// Clear wipes the terminal.
func (c *Console) Clear() {
	fmt.Fprint(c.out, "\033[2J\033[H")
}

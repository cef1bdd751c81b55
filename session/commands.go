package session

import (
	"errors"
	"fmt"
	"strings"
)

// HandleInput processes one line of local input: either an in-session
// command (leading '/') or chat text for the active partner. It
// returns true while the session loop should continue and false after
// /quit.
func (s *Session) HandleInput(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	if !strings.HasPrefix(line, "/") {
		if err := s.SendText(line); err != nil {
			if errors.Is(err, ErrNoActiveChat) {
				s.opts.Renderer.Warn("No active chat. Use /msg <address> or wait for an incoming message.")
			} else {
				s.opts.Renderer.Warn(fmt.Sprintf("Failed to send message: %v", err))
			}
		}
		return true
	}

	command, arg := splitCommand(line)
	switch command {
	case "/msg":
		if arg == "" {
			s.opts.Renderer.Warn("Usage: /msg <address>")
			return true
		}
		if err := s.switchTo(arg); err != nil {
			s.opts.Renderer.Warn(fmt.Sprintf("User %s not found", arg))
		}

	case "/list":
		s.opts.Renderer.PeerList(s.opts.Registry.Snapshot(), s.opts.Clock())

	case "/sendfile":
		if arg == "" {
			s.opts.Renderer.Warn("Usage: /sendfile <path>")
			return true
		}
		if err := s.SendFileOffer(arg); err != nil {
			switch {
			case errors.Is(err, ErrFileNotFound):
				s.opts.Renderer.Warn(fmt.Sprintf("File not found: %s", arg))
			case errors.Is(err, ErrNoActiveChat):
				s.opts.Renderer.Warn("No active chat to offer the file to.")
			default:
				s.opts.Renderer.Warn(fmt.Sprintf("Failed to send file offer: %v", err))
			}
		}

	case "/accept":
		if err := s.AcceptOffer(); err != nil {
			s.opts.Renderer.Warn("No pending file offer.")
		}

	case "/reject":
		if err := s.RejectOffer(); err != nil {
			s.opts.Renderer.Warn("No pending file offer.")
		}

	case "/history":
		s.showHistory()

	case "/clear":
		s.opts.Renderer.Clear()

	case "/help":
		s.opts.Renderer.Help()

	case "/quit":
		s.Quit()
		return false

	default:
		s.opts.Renderer.Warn(fmt.Sprintf("Unknown command %s. Type /help for commands.", command))
	}
	return true
}

func (s *Session) showHistory() {
	if s.opts.Store == nil {
		s.opts.Renderer.Warn("History is disabled.")
		return
	}

	s.mu.Lock()
	partner := s.partner
	s.mu.Unlock()

	if partner == nil {
		s.opts.Renderer.Warn("No active chat.")
		return
	}

	messages, err := s.opts.Store.RecentMessages(partner.String(), 50)
	if err != nil {
		s.opts.Renderer.Warn(fmt.Sprintf("Failed to load history: %v", err))
		return
	}
	s.opts.Renderer.Transcript(messages)
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	command := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return command, arg
}

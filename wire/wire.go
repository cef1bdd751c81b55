// Package wire encodes and decodes the datagram chat protocol.
//
// Every datagram is a single self-describing JSON object whose "type"
// key selects one of six message kinds. Field presence depends on the
// kind: presence and disconnect announcements carry only the sender
// name, while addressed kinds (chat, typing, read receipt, file offer)
// also name their intended recipient. Timestamps travel as fractional
// seconds since the Unix epoch.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxDatagramSize is the largest payload accepted from the socket.
const MaxDatagramSize = 4096

// Kind identifies a protocol message type. The values are the literal
// "type" tags used on the wire; note that chat messages use the tag
// "message", not "chat".
type Kind string

const (
	KindPresence    Kind = "presence"
	KindChat        Kind = "message"
	KindTyping      Kind = "typing"
	KindReadReceipt Kind = "read_receipt"
	KindFileOffer   Kind = "file_offer"
	KindDisconnect  Kind = "disconnect"
)

var (
	// ErrMalformed indicates the payload is not a valid protocol datagram.
	ErrMalformed = errors.New("wire: malformed message")
	// ErrUnknownKind indicates a syntactically valid datagram with an
	// unrecognized "type" tag.
	ErrUnknownKind = errors.New("wire: unknown message kind")
	// ErrMissingField indicates a required field for the kind is absent.
	ErrMissingField = errors.New("wire: missing required field")
)

// Message is the closed tagged variant carried by every datagram.
// Optional fields are zero for kinds that do not use them.
type Message struct {
	Kind Kind `json:"type"`

	// Username is the sender name on presence and disconnect datagrams.
	Username string `json:"username,omitempty"`

	// From/To are the sender and intended-recipient names on addressed
	// kinds. To is an application-level filter only; the transport has
	// already delivered the datagram.
	From string `json:"from_username,omitempty"`
	To   string `json:"to_username,omitempty"`

	// Text is the chat body. A leading '/' marks a command line.
	Text string `json:"text,omitempty"`

	// Filename, Size and Hash describe a file offer. Hash is the
	// hex-encoded SHA-256 digest of the file content.
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Hash     string `json:"hash,omitempty"`

	// Timestamp is fractional seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`
}

// Sender returns the display name of the message originator regardless
// of kind.
func (m Message) Sender() string {
	switch m.Kind {
	case KindPresence, KindDisconnect:
		return m.Username
	default:
		return m.From
	}
}

// Addressed reports whether the kind carries an intended recipient.
func (m Message) Addressed() bool {
	switch m.Kind {
	case KindChat, KindTyping, KindReadReceipt, KindFileOffer:
		return true
	default:
		return false
	}
}

// Time converts the wire timestamp to a time.Time.
func (m Message) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// TimestampAt converts a time.Time to the wire timestamp representation.
func TimestampAt(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Presence builds a presence announcement.
func Presence(username string, now time.Time) Message {
	return Message{Kind: KindPresence, Username: username, Timestamp: TimestampAt(now)}
}

// Disconnect builds a disconnect announcement.
func Disconnect(username string, now time.Time) Message {
	return Message{Kind: KindDisconnect, Username: username, Timestamp: TimestampAt(now)}
}

// Chat builds a direct chat message.
func Chat(from, to, text string, now time.Time) Message {
	return Message{Kind: KindChat, From: from, To: to, Text: text, Timestamp: TimestampAt(now)}
}

// Typing builds a typing indicator.
func Typing(from, to string, now time.Time) Message {
	return Message{Kind: KindTyping, From: from, To: to, Timestamp: TimestampAt(now)}
}

// ReadReceipt builds a read notice for the given sender.
func ReadReceipt(from, to string, now time.Time) Message {
	return Message{Kind: KindReadReceipt, From: from, To: to, Timestamp: TimestampAt(now)}
}

// FileOffer builds a file transfer offer. The offer is metadata only;
// payload transport happens on a separate channel.
func FileOffer(from, to, filename string, size int64, hash string, now time.Time) Message {
	return Message{
		Kind:      KindFileOffer,
		From:      from,
		To:        to,
		Filename:  filename,
		Size:      size,
		Hash:      hash,
		Timestamp: TimestampAt(now),
	}
}

// Encode validates and marshals a message for transmission.
func Encode(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", m.Kind, err)
	}
	return payload, nil
}

// Decode parses a datagram payload. Malformed payloads and unknown
// kinds are reported as errors wrapping ErrMalformed and ErrUnknownKind
// respectively; Decode never panics on arbitrary input.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	switch m.Kind {
	case KindPresence, KindDisconnect:
		if m.Username == "" {
			return fmt.Errorf("%w: %s requires username", ErrMissingField, m.Kind)
		}
	case KindChat, KindTyping, KindReadReceipt:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%w: %s requires from_username and to_username", ErrMissingField, m.Kind)
		}
	case KindFileOffer:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%w: file_offer requires from_username and to_username", ErrMissingField)
		}
		if m.Filename == "" || m.Hash == "" {
			return fmt.Errorf("%w: file_offer requires filename and hash", ErrMissingField)
		}
		if m.Size < 0 {
			return fmt.Errorf("%w: negative file size", ErrMalformed)
		}
	case "":
		return fmt.Errorf("%w: missing type tag", ErrMalformed)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

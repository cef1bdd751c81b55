package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"p2pchat/storage"
	"p2pchat/wire"
)

// SendFileOffer offers a local file to the active partner. Only
// metadata crosses the wire: basename, size, and the SHA-256 digest of
// the content. The payload itself needs a separate reliable channel.
func (s *Session) SendFileOffer(path string) error {
	s.mu.Lock()
	partner := s.partner
	name := s.partnerName
	s.mu.Unlock()

	if partner == nil {
		return ErrNoActiveChat
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	digest, err := HashFile(path)
	if err != nil {
		return err
	}

	now := s.opts.Clock()
	filename := filepath.Base(path)
	if err := s.opts.Transport.Send(wire.FileOffer(s.opts.Username, name, filename, info.Size(), digest, now), partner); err != nil {
		return err
	}

	s.opts.Renderer.Notice(fmt.Sprintf("File offer sent: %s (%d bytes)", filename, info.Size()))
	s.opts.Renderer.Notice("Waiting for response...")

	s.recordOffer(storage.FileOffer{
		OfferID:   uuid.NewString(),
		PeerAddr:  partner.String(),
		PeerName:  name,
		Direction: storage.DirectionSent,
		Filename:  filename,
		Size:      info.Size(),
		Hash:      digest,
		Status:    storage.OfferStatusPending,
		OfferedAt: now,
	})
	return nil
}

// HandleFileOffer surfaces an inbound offer for an accept/reject
// decision. A newer offer replaces an undecided one.
func (s *Session) HandleFileOffer(from *net.UDPAddr, msg wire.Message) {
	offer := Offer{
		ID:       uuid.NewString(),
		From:     msg.From,
		Addr:     from,
		Filename: msg.Filename,
		Size:     msg.Size,
		Hash:     msg.Hash,
	}

	s.mu.Lock()
	s.pendingOffer = &offer
	s.mu.Unlock()

	s.opts.Renderer.FileOfferPrompt(offer)

	s.recordOffer(storage.FileOffer{
		OfferID:   offer.ID,
		PeerAddr:  from.String(),
		PeerName:  msg.From,
		Direction: storage.DirectionReceived,
		Filename:  msg.Filename,
		Size:      msg.Size,
		Hash:      msg.Hash,
		Status:    storage.OfferStatusPending,
		OfferedAt: msg.Time(),
	})
}

// AcceptOffer answers the pending offer affirmatively. The reply is a
// plain chat notice to the offerer; bulk transfer stays out of scope.
func (s *Session) AcceptOffer() error {
	return s.answerOffer(true)
}

// RejectOffer declines the pending offer.
func (s *Session) RejectOffer() error {
	return s.answerOffer(false)
}

func (s *Session) answerOffer(accept bool) error {
	s.mu.Lock()
	offer := s.pendingOffer
	s.pendingOffer = nil
	s.mu.Unlock()

	if offer == nil {
		return ErrNoPendingOffer
	}

	verdict := "rejected"
	status := storage.OfferStatusRejected
	if accept {
		verdict = "accepted"
		status = storage.OfferStatusAccepted
	}

	now := s.opts.Clock()
	reply := fmt.Sprintf("%s your file offer: %s", verdict, offer.Filename)
	if err := s.opts.Transport.Send(wire.Chat(s.opts.Username, offer.From, reply, now), offer.Addr); err != nil {
		log.Printf("session: offer reply to %s failed: %v", offer.Addr, err)
	}

	if accept {
		s.opts.Renderer.Notice(fmt.Sprintf("Accepted %s. Transfer requires a separate reliable channel.", offer.Filename))
	} else {
		s.opts.Renderer.Notice(fmt.Sprintf("Rejected %s.", offer.Filename))
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.SetOfferStatus(offer.ID, status); err != nil {
			log.Printf("session: offer status update failed: %v", err)
		}
	}
	return nil
}

func (s *Session) recordOffer(offer storage.FileOffer) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.RecordOffer(offer); err != nil {
		log.Printf("session: offer history write failed: %v", err)
	}
}

// HashFile returns the hex-encoded SHA-256 digest of a file's content.
// The digest depends only on content, never on the path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileOffer is one row of the file-offer log. Offers are metadata
// only; no transfer payload state is recorded here.
type FileOffer struct {
	OfferID   string
	PeerAddr  string
	PeerName  string
	Direction string
	Filename  string
	Size      int64
	Hash      string
	Status    string
	OfferedAt time.Time
}

// RecordOffer inserts one offer row.
func (s *Store) RecordOffer(offer FileOffer) error {
	if offer.PeerAddr == "" {
		return errors.New("storage: peer_addr is required")
	}
	if offer.Filename == "" {
		return errors.New("storage: filename is required")
	}
	if err := validateDirection(offer.Direction); err != nil {
		return err
	}
	if offer.Status == "" {
		offer.Status = OfferStatusPending
	}
	if err := validateOfferStatus(offer.Status); err != nil {
		return err
	}
	if offer.OfferID == "" {
		offer.OfferID = uuid.NewString()
	}
	if offer.OfferedAt.IsZero() {
		offer.OfferedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO file_offers (offer_id, peer_addr, peer_name, direction, filename, size, hash, status, offered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.OfferID,
		offer.PeerAddr,
		offer.PeerName,
		offer.Direction,
		offer.Filename,
		offer.Size,
		offer.Hash,
		offer.Status,
		offer.OfferedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert file offer %q: %w", offer.OfferID, err)
	}
	return nil
}

// SetOfferStatus records the accept/reject decision for an offer.
func (s *Store) SetOfferStatus(offerID, status string) error {
	if err := validateOfferStatus(status); err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE file_offers SET status = ? WHERE offer_id = ?`, status, offerID)
	if err != nil {
		return fmt.Errorf("update file offer %q: %w", offerID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update file offer %q: %w", offerID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOffer fetches one offer row by ID.
func (s *Store) GetOffer(offerID string) (*FileOffer, error) {
	row := s.db.QueryRow(
		`SELECT offer_id, peer_addr, peer_name, direction, filename, size, hash, status, offered_at
		 FROM file_offers
		 WHERE offer_id = ?`,
		offerID,
	)

	var offer FileOffer
	var offeredAt int64
	err := row.Scan(&offer.OfferID, &offer.PeerAddr, &offer.PeerName, &offer.Direction,
		&offer.Filename, &offer.Size, &offer.Hash, &offer.Status, &offeredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file offer %q: %w", offerID, err)
	}
	offer.OfferedAt = time.UnixMilli(offeredAt)
	return &offer, nil
}

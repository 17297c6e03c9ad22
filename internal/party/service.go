// Package party implements the party lifecycle: create, invite, accept,
// end. It is the only writer of the durable Party Store.
package party

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/store"
)

// Service orchestrates party state transitions on top of the store.
type Service struct {
	store *store.PartyStore
	now   func() time.Time
}

func NewService(st *store.PartyStore) *Service {
	return &Service{store: st, now: time.Now}
}

// Create writes a pending party with the host joined and one pending
// participant row per invitee. The invitee list must be non-empty and
// must not contain the host.
func (s *Service) Create(ctx context.Context, hostID domain.UserID, contentID domain.ContentID, invitees []domain.UserID) (domain.PartyID, error) {
	if hostID == "" || len(hostID) > domain.MaxUserIDLen || len(invitees) == 0 {
		return "", fmt.Errorf("%w: host and at least one invitee required", domain.ErrInvalidInput)
	}
	seen := make(map[domain.UserID]bool, len(invitees))
	for _, uid := range invitees {
		if uid == "" || len(uid) > domain.MaxUserIDLen || uid == hostID {
			return "", fmt.Errorf("%w: invitee %q", domain.ErrInvalidInput, uid)
		}
		if seen[uid] {
			return "", fmt.Errorf("%w: duplicate invitee %q", domain.ErrInvalidInput, uid)
		}
		seen[uid] = true
	}

	p := domain.Party{
		ID:        domain.PartyID(uuid.NewString()),
		HostID:    hostID,
		ContentID: contentID,
		Status:    domain.StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, p, invitees); err != nil {
		return "", err
	}
	log.Info().Str("module", "party").Str("party_id", string(p.ID)).
		Str("host_id", string(hostID)).Int("invitees", len(invitees)).Msg("party created")
	return p.ID, nil
}

// ListInvites returns pending parties the user has been invited to but
// has not yet accepted.
func (s *Service) ListInvites(ctx context.Context, uid domain.UserID) ([]domain.Party, error) {
	return s.store.ListInvites(ctx, uid)
}

// Accept marks the invite accepted. The first non-host participant to
// join moves the party pending -> active. Idempotent for a participant
// that already joined.
func (s *Service) Accept(ctx context.Context, id domain.PartyID, uid domain.UserID) error {
	activated, err := s.store.Accept(ctx, id, uid, s.now())
	if err != nil {
		return err
	}
	ev := log.Info().Str("module", "party").Str("party_id", string(id)).Str("user_id", string(uid))
	if activated {
		ev = ev.Str("status", string(domain.StatusActive))
	}
	ev.Msg("invite accepted")
	return nil
}

// End moves the party to its terminal state. Ending is cooperative: any
// participant may call it, so a vanished host cannot strand the room.
func (s *Service) End(ctx context.Context, id domain.PartyID) error {
	if err := s.store.End(ctx, id); err != nil {
		return err
	}
	log.Info().Str("module", "party").Str("party_id", string(id)).Msg("party ended")
	return nil
}

// Details returns the party with its full roster.
func (s *Service) Details(ctx context.Context, id domain.PartyID) (domain.PartyDetails, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.PartyDetails{}, err
	}
	parts, err := s.store.Participants(ctx, id)
	if err != nil {
		return domain.PartyDetails{}, err
	}
	return domain.PartyDetails{Party: p, Participants: parts}, nil
}

// Get returns the bare party row.
func (s *Service) Get(ctx context.Context, id domain.PartyID) (domain.Party, error) {
	return s.store.Get(ctx, id)
}

// Participant returns one roster row, ErrNotInvited when absent.
func (s *Service) Participant(ctx context.Context, id domain.PartyID, uid domain.UserID) (domain.Participant, error) {
	return s.store.Participant(ctx, id, uid)
}

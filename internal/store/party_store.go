package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelq/cowatch/internal/domain"
)

// Timestamps are stored as RFC3339Nano text so rows round-trip without
// driver-specific time handling.
const timeLayout = time.RFC3339Nano

// PartyStore provides CRUD operations for parties and their participant
// roster. It is the single writer for both tables; the in-memory
// presence/playback side never goes through here.
type PartyStore struct {
	db *sql.DB
}

// NewPartyStore returns a PartyStore bound to the given database.
func NewPartyStore(db *sql.DB) *PartyStore { return &PartyStore{db: db} }

// Create inserts the party row, a joined participant row for the host
// and one pending row per invitee, all in one transaction.
func (s *PartyStore) Create(ctx context.Context, p domain.Party, invitees []domain.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const insParty = `INSERT INTO watch_parties (party_id, host_id, content_id, status, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insParty,
		p.ID, p.HostID, p.ContentID, p.Status, p.CreatedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("insert party: %w", err)
	}

	const insPart = `INSERT INTO watch_party_participants (party_id, user_id, joined, joined_at) VALUES (?, ?, ?, ?)`
	hostJoined := p.CreatedAt.UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx, insPart, p.ID, p.HostID, 1, hostJoined); err != nil {
		return fmt.Errorf("insert host participant: %w", err)
	}
	for _, uid := range invitees {
		if _, err := tx.ExecContext(ctx, insPart, p.ID, uid, 0, nil); err != nil {
			return fmt.Errorf("insert invitee %s: %w", uid, err)
		}
	}
	return tx.Commit()
}

// Get returns the party row or domain.ErrPartyNotFound.
func (s *PartyStore) Get(ctx context.Context, id domain.PartyID) (domain.Party, error) {
	const q = `SELECT party_id, host_id, content_id, status, created_at FROM watch_parties WHERE party_id = ?`
	var (
		p       domain.Party
		created string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.HostID, &p.ContentID, &p.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Party{}, domain.ErrPartyNotFound
	}
	if err != nil {
		return domain.Party{}, fmt.Errorf("select party: %w", err)
	}
	if p.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return domain.Party{}, fmt.Errorf("parse created_at: %w", err)
	}
	return p, nil
}

// Participants returns the full roster for a party, host included.
func (s *PartyStore) Participants(ctx context.Context, id domain.PartyID) ([]domain.Participant, error) {
	const q = `SELECT party_id, user_id, joined, joined_at FROM watch_party_participants WHERE party_id = ? ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var (
			p        domain.Participant
			joinedAt sql.NullString
		)
		if err := rows.Scan(&p.PartyID, &p.UserID, &p.Joined, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if joinedAt.Valid {
			t, err := time.Parse(timeLayout, joinedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse joined_at: %w", err)
			}
			p.JoinedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Participant returns one roster row or domain.ErrNotInvited.
func (s *PartyStore) Participant(ctx context.Context, id domain.PartyID, uid domain.UserID) (domain.Participant, error) {
	const q = `SELECT party_id, user_id, joined, joined_at FROM watch_party_participants WHERE party_id = ? AND user_id = ?`
	var (
		p        domain.Participant
		joinedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, id, uid).Scan(&p.PartyID, &p.UserID, &p.Joined, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrNotInvited
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	if joinedAt.Valid {
		t, err := time.Parse(timeLayout, joinedAt.String)
		if err != nil {
			return domain.Participant{}, fmt.Errorf("parse joined_at: %w", err)
		}
		p.JoinedAt = &t
	}
	return p, nil
}

// Accept marks the participant joined and, when this is the first
// non-host participant to join a pending party, activates it. The whole
// step runs in one transaction; calling it again is a no-op. Returns
// whether the party transitioned to active.
func (s *PartyStore) Accept(ctx context.Context, id domain.PartyID, uid domain.UserID, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var status domain.PartyStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM watch_parties WHERE party_id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrPartyNotFound
	}
	if err != nil {
		return false, fmt.Errorf("select status: %w", err)
	}
	if status.Terminal() {
		return false, domain.ErrPartyEnded
	}

	var joined bool
	err = tx.QueryRowContext(ctx,
		`SELECT joined FROM watch_party_participants WHERE party_id = ? AND user_id = ?`, id, uid).Scan(&joined)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotInvited
	}
	if err != nil {
		return false, fmt.Errorf("select participant: %w", err)
	}
	if joined {
		// Idempotent: accepting twice converges to the same end state.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE watch_party_participants SET joined = 1, joined_at = ? WHERE party_id = ? AND user_id = ?`,
		now.UTC().Format(timeLayout), id, uid); err != nil {
		return false, fmt.Errorf("mark joined: %w", err)
	}

	activated := false
	if status == domain.StatusPending {
		res, err := tx.ExecContext(ctx,
			`UPDATE watch_parties SET status = ? WHERE party_id = ? AND status = ?`,
			domain.StatusActive, id, domain.StatusPending)
		if err != nil {
			return false, fmt.Errorf("activate party: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("activate party: %w", err)
		}
		activated = n == 1
	}
	return activated, tx.Commit()
}

// End marks the party ended. Terminal and unconditional: ended rows
// never go back, so re-ending is a no-op rather than an error.
func (s *PartyStore) End(ctx context.Context, id domain.PartyID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watch_parties SET status = ? WHERE party_id = ?`, domain.StatusEnded, id)
	if err != nil {
		return fmt.Errorf("end party: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end party: %w", err)
	}
	if n == 0 {
		return domain.ErrPartyNotFound
	}
	return nil
}

// ListInvites returns parties where the user is invited but has not
// joined and the party is still pending.
func (s *PartyStore) ListInvites(ctx context.Context, uid domain.UserID) ([]domain.Party, error) {
	const q = `
		SELECT wp.party_id, wp.host_id, wp.content_id, wp.status, wp.created_at
		FROM watch_party_participants wpp
		JOIN watch_parties wp ON wp.party_id = wpp.party_id
		WHERE wpp.user_id = ? AND wpp.joined = 0 AND wp.status = ?
		ORDER BY wp.created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, uid, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("select invites: %w", err)
	}
	defer rows.Close()

	var out []domain.Party
	for rows.Next() {
		var (
			p       domain.Party
			created string
		)
		if err := rows.Scan(&p.ID, &p.HostID, &p.ContentID, &p.Status, &created); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		if p.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

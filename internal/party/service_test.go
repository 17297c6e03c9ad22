package party

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(store.NewPartyStore(db))
}

func TestCreateValidation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	longID := domain.UserID(strings.Repeat("x", domain.MaxUserIDLen+1))

	cases := []struct {
		name     string
		host     domain.UserID
		invitees []domain.UserID
	}{
		{"no invitees", "u1", nil},
		{"empty invitees", "u1", []domain.UserID{}},
		{"host invites self", "u1", []domain.UserID{"u2", "u1"}},
		{"empty invitee id", "u1", []domain.UserID{""}},
		{"duplicate invitee", "u1", []domain.UserID{"u2", "u2"}},
		{"empty host", "", []domain.UserID{"u2"}},
		{"host id too long", longID, []domain.UserID{"u2"}},
		{"invitee id too long", "u1", []domain.UserID{longID}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := s.Create(ctx, c.host, "m42", c.invitees); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("want ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateListAcceptFlow(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "u1", "m42", []domain.UserID{"u2", "u3"})
	if err != nil {
		t.Fatal(err)
	}

	invites, err := s.ListInvites(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(invites) != 1 || invites[0].ID != id {
		t.Fatalf("u2 must see the invite, got %+v", invites)
	}

	if err := s.Accept(ctx, id, "u2"); err != nil {
		t.Fatal(err)
	}

	details, err := s.Details(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if details.Party.Status != domain.StatusActive {
		t.Fatalf("want active, got %s", details.Party.Status)
	}
	for _, p := range details.Participants {
		if p.UserID == "u2" && !p.Joined {
			t.Fatal("u2 must be joined after accept")
		}
	}
}

func TestAcceptAfterEnd(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "u1", "m42", []domain.UserID{"u2", "u3"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.End(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := s.Accept(ctx, id, "u3"); !errors.Is(err, domain.ErrPartyEnded) {
		t.Fatalf("want ErrPartyEnded, got %v", err)
	}
}

func TestParticipantLookup(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "u1", "", []domain.UserID{"u2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Participant(ctx, id, "u2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Participant(ctx, id, "stranger"); !errors.Is(err, domain.ErrNotInvited) {
		t.Fatalf("want ErrNotInvited, got %v", err)
	}
}

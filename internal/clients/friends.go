package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pavelq/cowatch/internal/domain"
)

// Friends supplies candidate invitee lists from the friend-graph
// service. Read-only; parties work with bare user ids without it.
type Friends struct {
	base string
	http *http.Client
}

func NewFriends(baseURL string) *Friends {
	if baseURL == "" {
		return nil
	}
	return &Friends{
		base: baseURL,
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

// Candidates lists the user's friends as invitee candidates.
func (f *Friends) Candidates(ctx context.Context, uid domain.UserID) ([]domain.UserID, error) {
	if f == nil {
		return nil, nil
	}
	u := fmt.Sprintf("%s/friends?user_id=%s", f.base, url.QueryEscape(string(uid)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("friends lookup: status %d", resp.StatusCode)
	}
	var out struct {
		Friends []domain.UserID `json:"friends"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("friends lookup: %w", err)
	}
	return out.Friends, nil
}

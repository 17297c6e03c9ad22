// Package clients holds thin read-only consumers of the surrounding
// product: the content catalog and the friend graph. Neither is
// required for the coordination core; a nil client disables the lookup.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/domain"
)

// ContentMeta is the display metadata a catalog lookup yields.
type ContentMeta struct {
	ContentID domain.ContentID `json:"content_id"`
	Title     string           `json:"title"`
	PosterURL string           `json:"poster_url,omitempty"`
}

// Catalog looks titles and posters up for display. Failures degrade to
// bare content ids, never to request errors.
type Catalog struct {
	base string
	http *http.Client
}

func NewCatalog(baseURL string) *Catalog {
	if baseURL == "" {
		return nil
	}
	return &Catalog{
		base: baseURL,
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

// Lookup fetches metadata for one content id.
func (c *Catalog) Lookup(ctx context.Context, id domain.ContentID) (*ContentMeta, error) {
	if c == nil || id == "" {
		return nil, nil
	}
	u := fmt.Sprintf("%s/content/%s", c.base, url.PathEscape(string(id)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "clients.catalog").Str("content_id", string(id)).Msg("catalog lookup failed")
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog lookup: status %d", resp.StatusCode)
	}
	var meta ContentMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	return &meta, nil
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/app"
	"github.com/pavelq/cowatch/internal/clients"
	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/party"
)

// PartyHandlers serves the durable request/response side of parties.
// Catalog and Friends are optional collaborators; when nil the
// responses simply carry bare identifiers.
type PartyHandlers struct {
	Parties *party.Service
	Coord   *app.Coordinator
	Catalog *clients.Catalog
	Friends *clients.Friends
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotInvited), errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPartyNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPartyEnded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Msg("request failed")
		c.JSON(status, gin.H{"error": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createPartyRequest struct {
	HostID     domain.UserID    `json:"host_id"`
	ContentID  domain.ContentID `json:"content_id"`
	InviteeIDs []domain.UserID  `json:"invitee_ids"`
}

func (h *PartyHandlers) Create(c *gin.Context) {
	var req createPartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid body"})
		return
	}
	id, err := h.Parties.Create(c.Request.Context(), req.HostID, req.ContentID, req.InviteeIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"party_id": id})
}

func (h *PartyHandlers) ListInvites(c *gin.Context) {
	uid := domain.UserID(c.Query("user_id"))
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	invites, err := h.Parties.ListInvites(c.Request.Context(), uid)
	if err != nil {
		fail(c, err)
		return
	}
	if invites == nil {
		invites = []domain.Party{}
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

type acceptRequest struct {
	UserID domain.UserID `json:"user_id"`
}

func (h *PartyHandlers) Accept(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	id := domain.PartyID(c.Param("id"))
	if err := h.Parties.Accept(c.Request.Context(), id, req.UserID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Details returns the durable snapshot, decorated with catalog metadata
// when a catalog is configured. Catalog failures degrade silently.
func (h *PartyHandlers) Details(c *gin.Context) {
	id := domain.PartyID(c.Param("id"))
	details, err := h.Parties.Details(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{
		"party":        details.Party,
		"participants": details.Participants,
	}
	if meta, err := h.Catalog.Lookup(c.Request.Context(), details.Party.ContentID); err == nil && meta != nil {
		resp["content"] = meta
	}
	c.JSON(http.StatusOK, resp)
}

// End moves the party to its terminal state and evicts the live room.
// Cooperative: any participant may end, not just the host.
func (h *PartyHandlers) End(c *gin.Context) {
	id := domain.PartyID(c.Param("id"))
	if err := h.Coord.EndParty(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.StatusEnded)})
}

// FriendCandidates proxies the friend graph for the invite picker.
func (h *PartyHandlers) FriendCandidates(c *gin.Context) {
	uid := domain.UserID(c.Query("user_id"))
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if h.Friends == nil {
		c.JSON(http.StatusOK, gin.H{"friends": []domain.UserID{}})
		return
	}
	friends, err := h.Friends.Candidates(c.Request.Context(), uid)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("friend lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "friend graph unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"support-chat/internal/models"
)

// OnlineLister lists the users currently online.
type OnlineLister interface {
	Online() []string
}

// PresenceHandler exposes presence and profile lookups.
type PresenceHandler struct {
	chat   ChatService
	online OnlineLister
}

// NewPresenceHandler builds a PresenceHandler. online may be nil.
func NewPresenceHandler(chat ChatService, online OnlineLister) *PresenceHandler {
	return &PresenceHandler{chat: chat, online: online}
}

// UserOnline reports whether one user is online. Unknown users are offline.
func (h *PresenceHandler) UserOnline(c *gin.Context) {
	userID := c.Param("user_id")
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": h.chat.IsUserOnline(userID)})
}

// ListOnline returns every online user id.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	online := []string{}
	if h.online != nil {
		online = append(online, h.online.Online()...)
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

// Profiles resolves ?ids=a,b into display profiles, substituting the
// unknown-user profile for ids that do not resolve.
func (h *PresenceHandler) Profiles(c *gin.Context) {
	var ids []string
	for _, raw := range c.QueryArray("ids") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}

	resolved, err := h.chat.ResolveProfiles(c.Request.Context(), ids)
	if err != nil {
		writeError(c, err, "failed to load profiles")
		return
	}

	profiles := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := resolved[id]; ok {
			profiles[id] = p
		} else {
			profiles[id] = models.UnknownProfile(id)
		}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

package delivery

import (
	"net/http"
	"sync"
	"time"

	"safe-backend/internal/insight/usecase"
	"safe-backend/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

const stateTTL = 10 * time.Minute

type pendingState struct {
	userID    string
	expiresAt time.Time
}

type InsightHandler struct {
	insightUsecase usecase.InsightUsecase
	oauthConfig    *oauth2.Config

	// Pending OAuth states: the callback arrives from the provider redirect
	// without our auth header, so the state token carries the user binding.
	states   map[string]pendingState
	statesMu sync.Mutex
}

func NewInsightHandler(insightUsecase usecase.InsightUsecase, cfg *config.Config) *InsightHandler {
	return &InsightHandler{
		insightUsecase: insightUsecase,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		states: make(map[string]pendingState),
	}
}

func (h *InsightHandler) GetInsights(c *gin.Context) {
	userID := c.GetString("userID")
	projectID := c.Param("projectId")
	forceRefresh := c.Query("refresh") == "true"

	insights, err := h.insightUsecase.FetchInsights(c.Request.Context(), userID, projectID, forceRefresh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, insights)
}

func (h *InsightHandler) GetMessageBody(c *gin.Context) {
	userID := c.GetString("userID")
	messageID := c.Param("id")

	body, err := h.insightUsecase.FetchMessageBody(c.Request.Context(), userID, messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"body": body})
}

// ConnectGoogle returns the consent URL the frontend redirects to.
func (h *InsightHandler) ConnectGoogle(c *gin.Context) {
	userID := c.GetString("userID")

	state := uuid.New().String()
	h.statesMu.Lock()
	h.states[state] = pendingState{userID: userID, expiresAt: time.Now().Add(stateTTL)}
	h.statesMu.Unlock()

	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ConnectGoogleCallback exchanges the authorization code and stores the
// resulting credential for the user bound to the state token.
func (h *InsightHandler) ConnectGoogleCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state or code"})
		return
	}

	h.statesMu.Lock()
	pending, ok := h.states[state]
	delete(h.states, state)
	h.statesMu.Unlock()

	if !ok || time.Now().After(pending.expiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	token, err := h.oauthConfig.Exchange(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}

	cred, err := h.insightUsecase.StoreCredential(c.Request.Context(), pending.userID, token.AccessToken, token.RefreshToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connected": true, "account_email": cred.AccountEmail})
}

func (h *InsightHandler) DisconnectGoogle(c *gin.Context) {
	userID := c.GetString("userID")
	if err := h.insightUsecase.Disconnect(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

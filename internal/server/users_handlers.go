package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Nickname string `json:"nickname"`
	Password string `json:"password" binding:"required"`
}

type loginRequestPayload struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequestPayload struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Nickname *string `json:"nickname"`
	Password *string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type userPayload struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUserPayload(user users.User) userPayload {
	return userPayload{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Nickname:  user.Nickname,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), users.RegisterInput{
		Username: request.Username,
		Email:    request.Email,
		Nickname: request.Nickname,
		Password: request.Password,
	})
	if err != nil {
		h.respondError(c, "failed to register user", err)
		return
	}
	c.JSON(http.StatusCreated, newUserPayload(user))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Login, request.Password)
	if err != nil {
		h.respondError(c, "failed to authenticate user", err)
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "failed to load profile", err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request updateProfileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.Update(c.Request.Context(), userID, users.UpdateInput{
		Username: request.Username,
		Email:    request.Email,
		Nickname: request.Nickname,
		Password: request.Password,
	})
	if err != nil {
		h.respondError(c, "failed to update profile", err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleDeleteProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.users.Delete(c.Request.Context(), userID); err != nil {
		h.respondError(c, "failed to delete user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

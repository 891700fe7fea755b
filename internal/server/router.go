package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/calendar"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/diary"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "moodlog_user_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingDiaryService    = errors.New("diary service dependency required")
	errMissingCalendarService = errors.New("calendar service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager      TokenManager
	UsersService      *users.Service
	DiaryService      *diary.Service
	CalendarService   *calendar.Service
	Realtime          *RealtimeDispatcher
	Clock             func() time.Time
	Location          *time.Location
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.DiaryService == nil {
		return nil, errMissingDiaryService
	}
	if deps.CalendarService == nil {
		return nil, errMissingCalendarService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:            deps.TokenManager,
		users:             deps.UsersService,
		diaries:           deps.DiaryService,
		calendar:          deps.CalendarService,
		realtime:          realtime,
		clock:             clock,
		location:          location,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/intensities", handler.handleListIntensities)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/me", handler.handleGetProfile)
	protected.PATCH("/users/me", handler.handleUpdateProfile)
	protected.DELETE("/users/me", handler.handleDeleteProfile)
	protected.POST("/diaries", handler.handleCreateDiary)
	protected.GET("/diaries", handler.handleListDiaries)
	protected.GET("/diaries/:id", handler.handleGetDiary)
	protected.PATCH("/diaries/:id", handler.handleUpdateDiary)
	protected.PUT("/diaries/:id", handler.handleUpdateDiary)
	protected.DELETE("/diaries/:id", handler.handleDeleteDiary)
	protected.GET("/calendar", handler.handleListCalendar)

	stream := router.Group("/")
	stream.Use(handler.authorizeStreamRequest)
	stream.GET("/calendar/stream", handler.handleCalendarStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens            TokenManager
	users             *users.Service
	diaries           *diary.Service
	calendar          *calendar.Service
	realtime          *RealtimeDispatcher
	clock             func() time.Time
	location          *time.Location
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	h.authorizeToken(c, token)
}

// authorizeStreamRequest also accepts access_token as a query parameter since
// EventSource clients cannot set headers.
func (h *httpHandler) authorizeStreamRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		h.authorizeToken(c, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		return
	}
	h.authorizeToken(c, strings.TrimSpace(c.Query("access_token")))
}

func (h *httpHandler) authorizeToken(c *gin.Context, token string) {
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.users != nil {
		userID, err := h.users.ResolveActiveUserID(c.Request.Context(), subject)
		if err != nil {
			if !errors.Is(err, users.ErrNotFound) {
				h.logger.Error("failed to resolve token subject", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		subject = userID
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// respondError maps service errors onto status codes and stable error bodies.
func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, diary.ErrValidation),
		errors.Is(err, users.ErrValidation),
		errors.Is(err, calendar.ErrInvalidMonth),
		errors.Is(err, calendar.ErrInvalidDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed"})
	case errors.Is(err, diary.ErrDuplicateEntry):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_entry"})
	case errors.Is(err, users.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, diary.ErrNotFound), errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		h.logger.Error(message, zap.Error(err))
		payload := gin.H{"error": "internal_error"}
		if code, ok := serviceerr.CodeOf(err); ok {
			payload["code"] = code
		}
		c.JSON(http.StatusInternalServerError, payload)
	}
}

func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

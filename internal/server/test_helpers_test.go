package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/calendar"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/database"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/diary"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/empathy"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testSigningSecret = "server-test-secret"

// keywordGenerator answers with an emotion derived from the diary text.
type keywordGenerator struct{}

func (keywordGenerator) Generate(_ context.Context, _ string, userText string) (string, error) {
	emotion := "calm"
	switch {
	case strings.Contains(userText, "broke"):
		emotion = "frustrated"
	case strings.Contains(userText, "fixed"):
		emotion = "relieved"
	}
	return fmt.Sprintf(`{"emotion":%q,"comment":"heard you","feedback":"keep going","keywords":[%q]}`, emotion, emotion), nil
}

type failingCalendarStore struct{}

func (failingCalendarStore) UpsertTx(*gorm.DB, string, calendar.Date, string) (calendar.Day, error) {
	return calendar.Day{}, fmt.Errorf("calendar unavailable")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type testEnvironment struct {
	handler  http.Handler
	db       *gorm.DB
	tokens   *auth.TokenIssuer
	users    *users.Service
	clock    *testClock
	realtime *RealtimeDispatcher
}

type environmentOption func(*diary.ServiceConfig)

func withCalendarStore(store diary.CalendarStore) environmentOption {
	return func(cfg *diary.ServiceConfig) {
		cfg.Calendar = store
	}
}

func newTestEnvironment(t *testing.T, options ...environmentOption) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	clock := &testClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "moodlog-api",
		Audience:      "moodlog-clients",
		TokenTTL:      30 * time.Minute,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Hasher:     auth.NewPasswordHasher(bcrypt.MinCost),
		IDProvider: ids.NewSequence("user"),
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}

	calendarService, err := calendar.NewService(calendar.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: ids.NewSequence("day"),
	})
	if err != nil {
		t.Fatalf("failed to create calendar service: %v", err)
	}

	engine, err := empathy.NewEngine(empathy.EngineConfig{Generator: keywordGenerator{}})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	diaryConfig := diary.ServiceConfig{
		Database:   db,
		Classifier: engine,
		Calendar:   calendarService,
		Publisher:  realtime,
		IDProvider: ids.NewSequence("diary"),
		Clock:      clock.Now,
		Location:   time.UTC,
	}
	for _, option := range options {
		option(&diaryConfig)
	}
	diaryService, err := diary.NewService(diaryConfig)
	if err != nil {
		t.Fatalf("failed to create diary service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:      tokenIssuer,
		UsersService:      usersService,
		DiaryService:      diaryService,
		CalendarService:   calendarService,
		Realtime:          realtime,
		Clock:             clock.Now,
		Location:          time.UTC,
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler:  handler,
		db:       db,
		tokens:   tokenIssuer,
		users:    usersService,
		clock:    clock,
		realtime: realtime,
	}
}

func (e *testEnvironment) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

// signUp registers a user and returns a bearer token for it.
func (e *testEnvironment) signUp(t *testing.T, username string) string {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register %s: unexpected status %d body %s", username, recorder.Code, recorder.Body.String())
	}
	recorder = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"login":    username,
		"password": "correct horse",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login %s: unexpected status %d body %s", username, recorder.Code, recorder.Body.String())
	}
	var payload authResponsePayload
	decodeBody(t, recorder, &payload)
	return payload.AccessToken
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]interface{}
	decodeBody(t, recorder, &payload)
	code, _ := payload["error"].(string)
	return code
}

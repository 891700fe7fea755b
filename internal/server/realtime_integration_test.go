package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCalendarStreamEmitsCalendarChangeEvents(t *testing.T) {
	env := newTestEnvironment(t)
	token := env.signUp(t, "streamer")

	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/calendar/stream?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", streamResp.Header.Get("Content-Type"))
	}

	streamReader := bufio.NewReader(streamResp.Body)

	deadline := time.Now().Add(2 * time.Second)
	for env.realtime.subscriberCount("user-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	payload := `{"title":"Release day","content":"The build broke again."}`
	createReq, err := http.NewRequest(http.MethodPost, server.URL+"/diaries", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("failed to construct create request: %v", err)
	}
	createReq.Header.Set("Authorization", "Bearer "+token)
	createReq.Header.Set("Content-Type", "application/json")
	createResp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	_ = createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}

	type eventPayload struct {
		Date       string  `json:"date"`
		EmotionTag *string `json:"emotion_tag"`
	}

	currentEventType := ""
	timeout := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != RealtimeEventCalendarChanged {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event eventPayload
			if err := json.Unmarshal([]byte(dataJSON), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.Date != "2024-05-10" || event.EmotionTag == nil || *event.EmotionTag != "frustrated" {
				t.Fatalf("unexpected calendar event: %#v", event)
			}
			return
		}
	}
}

func TestCalendarStreamRequiresToken(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodGet, "/calendar/stream", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
}

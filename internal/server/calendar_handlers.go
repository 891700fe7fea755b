package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type calendarDayPayload struct {
	Date       string  `json:"date"`
	EmotionTag *string `json:"emotion_tag"`
}

type calendarResponsePayload struct {
	Year  int                  `json:"year"`
	Month int                  `json:"month"`
	Days  []calendarDayPayload `json:"days"`
}

type calendarEventPayload struct {
	Date       string  `json:"date"`
	EmotionTag *string `json:"emotion_tag"`
	Timestamp  string  `json:"timestamp"`
}

type heartbeatEventPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

func (h *httpHandler) handleListCalendar(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	now := h.clock().In(h.location)
	year, err := queryInt(c, "year", now.Year())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	month, err := queryInt(c, "month", int(now.Month()))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entries, err := h.calendar.List(c.Request.Context(), userID, year, month)
	if err != nil {
		h.respondError(c, "failed to list calendar", err)
		return
	}
	response := calendarResponsePayload{
		Year:  year,
		Month: month,
		Days:  make([]calendarDayPayload, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Days = append(response.Days, calendarDayPayload{
			Date:       entry.Date.String(),
			EmotionTag: entry.EmotionTag,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCalendarStream(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, h.heartbeat())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, calendarEventPayload{
				Date:       message.Date,
				EmotionTag: message.EmotionTag,
				Timestamp:  message.Timestamp.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, h.heartbeat())
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) heartbeat() heartbeatEventPayload {
	return heartbeatEventPayload{
		Source:    realtimeSourceBackend,
		Timestamp: h.clock().UTC().Format(time.RFC3339),
	}
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

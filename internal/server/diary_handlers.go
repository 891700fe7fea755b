package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/diary"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/empathy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createDiaryRequestPayload struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Intensity string `json:"intensity"`
}

type updateDiaryRequestPayload struct {
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	Intensity *string `json:"intensity"`
}

type diaryPayload struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	EmpathyResponse *string   `json:"empathy_response"`
	Feedback        *string   `json:"feedback"`
	EmotionTag      *string   `json:"emotion_tag"`
	Keywords        []string  `json:"keywords"`
	Intensity       string    `json:"intensity"`
	EntryDate       string    `json:"entry_date"`
	CalendarDayID   *string   `json:"calendar_day_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type diaryWriteResponsePayload struct {
	diaryPayload
	CalendarSynced bool `json:"calendar_synced"`
}

type diaryListResponsePayload struct {
	Diaries []diaryPayload `json:"diaries"`
}

func newDiaryPayload(record diary.Diary) diaryPayload {
	return diaryPayload{
		ID:              record.ID,
		Title:           record.Title,
		Content:         record.Content,
		EmpathyResponse: record.EmpathyResponse,
		Feedback:        record.Feedback,
		EmotionTag:      record.EmotionTag,
		Keywords:        record.KeywordList(),
		Intensity:       record.Intensity,
		EntryDate:       record.EntryDate,
		CalendarDayID:   record.CalendarDayID,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func (h *httpHandler) handleListIntensities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"intensities": empathy.Intensities()})
}

func (h *httpHandler) handleCreateDiary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request createDiaryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.diaries.Create(c.Request.Context(), userID, diary.CreateInput{
		Title:     request.Title,
		Content:   request.Content,
		Intensity: request.Intensity,
	})
	synced, err := h.calendarSyncOutcome(err, record)
	if err != nil {
		h.respondError(c, "failed to create diary", err)
		return
	}
	c.JSON(http.StatusCreated, diaryWriteResponsePayload{
		diaryPayload:   newDiaryPayload(record),
		CalendarSynced: synced,
	})
}

func (h *httpHandler) handleListDiaries(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	records, err := h.diaries.List(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "failed to list diaries", err)
		return
	}
	response := diaryListResponsePayload{Diaries: make([]diaryPayload, 0, len(records))}
	for _, record := range records {
		response.Diaries = append(response.Diaries, newDiaryPayload(record))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetDiary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	record, err := h.diaries.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, "failed to load diary", err)
		return
	}
	c.JSON(http.StatusOK, newDiaryPayload(record))
}

func (h *httpHandler) handleUpdateDiary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request updateDiaryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.diaries.Update(c.Request.Context(), c.Param("id"), userID, diary.UpdateInput{
		Title:     request.Title,
		Content:   request.Content,
		Intensity: request.Intensity,
	})
	synced, err := h.calendarSyncOutcome(err, record)
	if err != nil {
		h.respondError(c, "failed to update diary", err)
		return
	}
	c.JSON(http.StatusOK, diaryWriteResponsePayload{
		diaryPayload:   newDiaryPayload(record),
		CalendarSynced: synced,
	})
}

func (h *httpHandler) handleDeleteDiary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	record, err := h.diaries.Delete(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, "failed to delete diary", err)
		return
	}
	c.JSON(http.StatusOK, newDiaryPayload(record))
}

// calendarSyncOutcome treats a failed calendar step as a stored diary with calendar_synced=false.
func (h *httpHandler) calendarSyncOutcome(err error, record diary.Diary) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, diary.ErrCalendarSync) && record.ID != "" {
		h.logger.Warn("diary stored without calendar update",
			zap.String("diary_id", record.ID),
			zap.String("entry_date", record.EntryDate),
			zap.Error(err))
		return false, nil
	}
	return false, err
}

package diary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/calendar"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/empathy"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxTitleLength bounds the title in characters.
const MaxTitleLength = 100

const (
	opServiceNew = "diary.service.new"
	opCreate     = "diary.create"
	opUpdate     = "diary.update"
	opGet        = "diary.get"
	opList       = "diary.list"
	opDelete     = "diary.delete"
	opBackfill   = "diary.backfill_calendar"
)

var (
	// ErrDuplicateEntry indicates the user already wrote a diary for the current day.
	ErrDuplicateEntry = errors.New("diary: duplicate entry")
	// ErrNotFound indicates the diary does not exist or belongs to another user.
	ErrNotFound = errors.New("diary: not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("diary: validation failed")
	// ErrCalendarSync indicates the diary was stored but its calendar day was not updated.
	ErrCalendarSync = errors.New("diary: calendar sync failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingClassifier = errors.New("classifier is required")
	errMissingCalendar   = errors.New("calendar store is required")

	noOpLogger = zap.NewNop()
)

// Classifier labels diary text with an emotion and a reply.
type Classifier interface {
	Classify(ctx context.Context, text string, intensity empathy.Intensity) empathy.Judgment
}

// CalendarStore upserts the per-day emotion inside a caller-held transaction.
type CalendarStore interface {
	UpsertTx(tx *gorm.DB, userID string, date calendar.Date, emotionTag string) (calendar.Day, error)
}

// CalendarPublisher is notified after a calendar day changes.
type CalendarPublisher interface {
	PublishCalendarChange(userID string, day calendar.Day)
}

// ServiceConfig wires the diary workflow dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Classifier Classifier
	Calendar   CalendarStore
	Publisher  CalendarPublisher
	IDProvider ids.Provider
	Clock      func() time.Time
	Location   *time.Location
	Logger     *zap.Logger
}

// Service coordinates diary persistence, classification, and calendar updates.
type Service struct {
	db         *gorm.DB
	classifier Classifier
	calendar   CalendarStore
	publisher  CalendarPublisher
	idProvider ids.Provider
	clock      func() time.Time
	location   *time.Location
	logger     *zap.Logger
}

// CreateInput describes a new diary entry.
type CreateInput struct {
	Title     string
	Content   string
	Intensity string
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title     *string
	Content   *string
	Intensity *string
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Classifier == nil {
		return nil, serviceerr.New(opServiceNew, "missing_classifier", errMissingClassifier)
	}
	if cfg.Calendar == nil {
		return nil, serviceerr.New(opServiceNew, "missing_calendar", errMissingCalendar)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		classifier: cfg.Classifier,
		calendar:   cfg.Calendar,
		publisher:  cfg.Publisher,
		idProvider: cfg.IDProvider,
		clock:      clock,
		location:   location,
		logger:     logger,
	}, nil
}

// Create stores today's diary for userID. When the calendar step fails the
// committed diary is returned together with an error wrapping ErrCalendarSync.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (Diary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Diary{}, serviceerr.New(opCreate, "invalid_input", fmt.Errorf("%w: user id is required", ErrValidation))
	}
	title, err := validateTitle(input.Title)
	if err != nil {
		return Diary{}, serviceerr.New(opCreate, "invalid_input", err)
	}
	content, err := validateContent(input.Content)
	if err != nil {
		return Diary{}, serviceerr.New(opCreate, "invalid_input", err)
	}
	intensity, err := parseIntensity(input.Intensity)
	if err != nil {
		return Diary{}, serviceerr.New(opCreate, "invalid_input", err)
	}

	now := s.clock()
	today := calendar.DateOf(now, s.location)

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&Diary{}).
		Where("user_id = ? AND entry_date = ?", userID, today.String()).
		Count(&existing).Error; err != nil {
		s.logError(opCreate, "duplicate_check_failed", err, zap.String("user_id", userID))
		return Diary{}, serviceerr.New(opCreate, "duplicate_check_failed", err)
	}
	if existing > 0 {
		return Diary{}, serviceerr.New(opCreate, "duplicate_entry", ErrDuplicateEntry)
	}

	diaryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID))
		return Diary{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}

	judgment := s.classifier.Classify(ctx, content, intensity)

	timestamp := now.UTC()
	record := Diary{
		ID:        diaryID,
		UserID:    userID,
		EntryDate: today.String(),
		Title:     title,
		Content:   content,
		Intensity: string(intensity),
		CreatedAt: timestamp,
		UpdatedAt: timestamp,
	}
	applyJudgment(&record, judgment)

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Diary{}, serviceerr.New(opCreate, "duplicate_entry", ErrDuplicateEntry)
		}
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return Diary{}, serviceerr.New(opCreate, "insert_failed", err)
	}

	if err := s.syncCalendar(ctx, &record); err != nil {
		s.logError(opCreate, "calendar_sync_failed", err,
			zap.String("user_id", userID),
			zap.String("diary_id", record.ID),
			zap.String("entry_date", record.EntryDate))
		return record, serviceerr.New(opCreate, "calendar_sync_failed", fmt.Errorf("%w: %w", ErrCalendarSync, err))
	}
	return record, nil
}

// Update applies a partial update. Only a content change triggers
// reclassification and a calendar write.
func (s *Service) Update(ctx context.Context, diaryID, userID string, input UpdateInput) (Diary, error) {
	existing, err := s.find(ctx, opUpdate, diaryID, userID)
	if err != nil {
		return Diary{}, err
	}

	updates := map[string]any{}
	if input.Title != nil {
		title, err := validateTitle(*input.Title)
		if err != nil {
			return Diary{}, serviceerr.New(opUpdate, "invalid_input", err)
		}
		updates["title"] = title
	}
	intensity := empathy.Intensity(existing.Intensity)
	if input.Intensity != nil {
		parsed, err := parseIntensity(*input.Intensity)
		if err != nil {
			return Diary{}, serviceerr.New(opUpdate, "invalid_input", err)
		}
		intensity = parsed
		updates["intensity"] = string(parsed)
	}
	contentChanged := false
	if input.Content != nil {
		content, err := validateContent(*input.Content)
		if err != nil {
			return Diary{}, serviceerr.New(opUpdate, "invalid_input", err)
		}
		if content != existing.Content {
			contentChanged = true
			judgment := s.classifier.Classify(ctx, content, intensity)
			reclassified := Diary{}
			applyJudgment(&reclassified, judgment)
			updates["content"] = content
			updates["empathy_response"] = reclassified.EmpathyResponse
			updates["feedback"] = reclassified.Feedback
			updates["emotion_tag"] = reclassified.EmotionTag
			updates["keywords"] = reclassified.Keywords
		}
	}

	if len(updates) == 0 {
		return existing, nil
	}
	updates["updated_at"] = s.clock().UTC()

	result := s.db.WithContext(ctx).
		Model(&Diary{}).
		Where("id = ? AND user_id = ?", existing.ID, existing.UserID).
		Updates(updates)
	if result.Error != nil {
		s.logError(opUpdate, "update_failed", result.Error,
			zap.String("user_id", existing.UserID),
			zap.String("diary_id", existing.ID))
		return Diary{}, serviceerr.New(opUpdate, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Diary{}, serviceerr.New(opUpdate, "not_found", ErrNotFound)
	}

	updated, err := s.find(ctx, opUpdate, existing.ID, existing.UserID)
	if err != nil {
		return Diary{}, err
	}
	if !contentChanged {
		return updated, nil
	}
	if err := s.syncCalendar(ctx, &updated); err != nil {
		s.logError(opUpdate, "calendar_sync_failed", err,
			zap.String("user_id", updated.UserID),
			zap.String("diary_id", updated.ID),
			zap.String("entry_date", updated.EntryDate))
		return updated, serviceerr.New(opUpdate, "calendar_sync_failed", fmt.Errorf("%w: %w", ErrCalendarSync, err))
	}
	return updated, nil
}

// Get returns one diary owned by userID.
func (s *Service) Get(ctx context.Context, diaryID, userID string) (Diary, error) {
	return s.find(ctx, opGet, diaryID, userID)
}

// List returns the user's diaries, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Diary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, serviceerr.New(opList, "invalid_input", fmt.Errorf("%w: user id is required", ErrValidation))
	}
	var diaries []Diary
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("entry_date DESC").
		Order("created_at DESC").
		Find(&diaries).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return diaries, nil
}

// Delete removes a diary and returns it. The calendar day keeps its last emotion.
func (s *Service) Delete(ctx context.Context, diaryID, userID string) (Diary, error) {
	var deleted Diary
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", diaryID, userID).
			Take(&deleted).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return serviceerr.New(opDelete, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opDelete, "select_failed", err,
				zap.String("user_id", userID),
				zap.String("diary_id", diaryID))
			return serviceerr.New(opDelete, "select_failed", err)
		}
		if err := tx.Where("id = ? AND user_id = ?", diaryID, userID).Delete(&Diary{}).Error; err != nil {
			s.logError(opDelete, "delete_failed", err,
				zap.String("user_id", userID),
				zap.String("diary_id", diaryID))
			return serviceerr.New(opDelete, "delete_failed", err)
		}
		return nil
	})
	if err != nil {
		return Diary{}, err
	}
	return deleted, nil
}

// BackfillCalendar upserts calendar days for diaries that were never linked
// to one and returns how many diaries were repaired.
func (s *Service) BackfillCalendar(ctx context.Context) (int, error) {
	var pending []Diary
	if err := s.db.WithContext(ctx).
		Where("calendar_day_id IS NULL").
		Order("entry_date ASC").
		Order("updated_at ASC").
		Find(&pending).Error; err != nil {
		s.logError(opBackfill, "query_failed", err)
		return 0, serviceerr.New(opBackfill, "query_failed", err)
	}

	repaired := 0
	for index := range pending {
		if err := ctx.Err(); err != nil {
			return repaired, serviceerr.New(opBackfill, "cancelled", err)
		}
		if err := s.syncCalendar(ctx, &pending[index]); err != nil {
			s.logError(opBackfill, "calendar_sync_failed", err,
				zap.String("user_id", pending[index].UserID),
				zap.String("diary_id", pending[index].ID))
			return repaired, serviceerr.New(opBackfill, "calendar_sync_failed", fmt.Errorf("%w: %w", ErrCalendarSync, err))
		}
		repaired++
	}
	if repaired > 0 {
		s.loggerOrDefault().Info("calendar backfill completed", zap.Int("repaired", repaired))
	}
	return repaired, nil
}

func (s *Service) find(ctx context.Context, operation, diaryID, userID string) (Diary, error) {
	diaryID = strings.TrimSpace(diaryID)
	userID = strings.TrimSpace(userID)
	if diaryID == "" || userID == "" {
		return Diary{}, serviceerr.New(operation, "not_found", ErrNotFound)
	}
	var record Diary
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", diaryID, userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Diary{}, serviceerr.New(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err,
			zap.String("user_id", userID),
			zap.String("diary_id", diaryID))
		return Diary{}, serviceerr.New(operation, "select_failed", err)
	}
	return record, nil
}

// syncCalendar upserts the diary's day and links the diary to it in one transaction.
func (s *Service) syncCalendar(ctx context.Context, record *Diary) error {
	var day calendar.Day
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upserted, err := s.calendar.UpsertTx(tx, record.UserID, calendar.Date(record.EntryDate), textOrEmpty(record.EmotionTag))
		if err != nil {
			return err
		}
		if err := tx.Model(&Diary{}).
			Where("id = ?", record.ID).
			UpdateColumn("calendar_day_id", upserted.ID).Error; err != nil {
			return err
		}
		day = upserted
		return nil
	})
	if err != nil {
		return err
	}
	record.CalendarDayID = &day.ID
	if s.publisher != nil {
		s.publisher.PublishCalendarChange(record.UserID, day)
	}
	return nil
}

func applyJudgment(record *Diary, judgment empathy.Judgment) {
	record.EmpathyResponse = optionalText(judgment.Comment)
	record.Feedback = optionalText(judgment.Feedback)
	record.EmotionTag = optionalText(judgment.Emotion)
	record.Keywords = encodeKeywords(judgment.Keywords)
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}
	return title, nil
}

func validateContent(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: content is required", ErrValidation)
	}
	return raw, nil
}

func parseIntensity(raw string) (empathy.Intensity, error) {
	intensity, err := empathy.ParseIntensity(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return intensity, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("diary service error", attrs...)
}

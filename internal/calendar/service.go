package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "calendar.service.new"
	opUpsert     = "calendar.upsert"
	opList       = "calendar.list"
	opGet        = "calendar.get"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingTx         = errors.New("transaction handle is required")

	// ErrDayNotFound indicates no calendar row exists for the requested day.
	ErrDayNotFound = errors.New("calendar: day not found")

	noOpLogger = zap.NewNop()
)

// ServiceConfig wires the calendar aggregator dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service maintains one emotion tag per user per calendar day.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Upsert records emotionTag for (userID, date) in its own transaction.
func (s *Service) Upsert(ctx context.Context, userID string, date Date, emotionTag string) (Day, error) {
	var stored Day
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		day, upsertErr := s.UpsertTx(tx, userID, date, emotionTag)
		if upsertErr != nil {
			return upsertErr
		}
		stored = day
		return nil
	})
	if err != nil {
		return Day{}, err
	}
	return stored, nil
}

// UpsertTx records emotionTag for (userID, date) inside an existing transaction.
// The write is a single INSERT ... ON CONFLICT statement so concurrent callers
// for the same day converge on one row; the latest write wins.
func (s *Service) UpsertTx(tx *gorm.DB, userID string, date Date, emotionTag string) (Day, error) {
	if tx == nil {
		return Day{}, serviceerr.New(opUpsert, "missing_transaction", errMissingTx)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Day{}, serviceerr.New(opUpsert, "missing_user_id", errMissingUserID)
	}
	if _, err := ParseDate(date.String()); err != nil {
		return Day{}, serviceerr.New(opUpsert, "invalid_date", err)
	}

	dayID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpsert, "id_generation_failed", err, zap.String("user_id", userID))
		return Day{}, serviceerr.New(opUpsert, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	record := Day{
		ID:        dayID,
		UserID:    userID,
		Date:      date.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tag := strings.TrimSpace(emotionTag); tag != "" {
		record.EmotionTag = &tag
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"emotion_tag", "updated_at"}),
	}).Create(&record).Error; err != nil {
		s.logError(opUpsert, "upsert_failed", err,
			zap.String("user_id", userID),
			zap.String("date", date.String()))
		return Day{}, serviceerr.New(opUpsert, "upsert_failed", err)
	}

	var stored Day
	if err := tx.Where("user_id = ? AND date = ?", userID, date.String()).Take(&stored).Error; err != nil {
		s.logError(opUpsert, "reload_failed", err,
			zap.String("user_id", userID),
			zap.String("date", date.String()))
		return Day{}, serviceerr.New(opUpsert, "reload_failed", err)
	}
	return stored, nil
}

// Get returns the calendar row for (userID, date).
func (s *Service) Get(ctx context.Context, userID string, date Date) (Day, error) {
	var day Day
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date.String()).
		Take(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Day{}, serviceerr.New(opGet, "not_found", ErrDayNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("user_id", userID))
		return Day{}, serviceerr.New(opGet, "query_failed", err)
	}
	return day, nil
}

// List returns the days recorded for userID within the given month, ascending by date.
func (s *Service) List(ctx context.Context, userID string, year, month int) ([]DayEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, serviceerr.New(opList, "missing_user_id", errMissingUserID)
	}
	first, next, err := MonthRange(year, month)
	if err != nil {
		return nil, serviceerr.New(opList, "invalid_month", err)
	}

	var days []Day
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", userID, first.String(), next.String()).
		Order("date ASC").
		Find(&days).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}

	entries := make([]DayEntry, 0, len(days))
	for _, day := range days {
		entries = append(entries, DayEntry{Date: Date(day.Date), EmotionTag: day.EmotionTag})
	}
	return entries, nil
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
	s.loggerOrDefault().Error("calendar service error", attrs...)
}

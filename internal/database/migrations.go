package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDefaultDiaryIntensity = "2024-06-01_default_diary_intensity"
	migrationLinkDiaryCalendarDays = "2024-06-02_link_diary_calendar_days"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDefaultDiaryIntensity, apply: defaultDiaryIntensity},
		{name: migrationLinkDiaryCalendarDays, apply: linkDiaryCalendarDays},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// defaultDiaryIntensity fills rows written before intensity was recorded.
func defaultDiaryIntensity(db *gorm.DB) error {
	return db.Exec("UPDATE diaries SET intensity = 'medium' WHERE intensity IS NULL OR intensity = ''").Error
}

// linkDiaryCalendarDays attaches unlinked diaries to an existing day row for the same user and date.
func linkDiaryCalendarDays(db *gorm.DB) error {
	return db.Exec(`UPDATE diaries SET calendar_day_id = (
		SELECT calendar_days.id FROM calendar_days
		WHERE calendar_days.user_id = diaries.user_id AND calendar_days.date = diaries.entry_date
	)
	WHERE calendar_day_id IS NULL AND EXISTS (
		SELECT 1 FROM calendar_days
		WHERE calendar_days.user_id = diaries.user_id AND calendar_days.date = diaries.entry_date
	)`).Error
}

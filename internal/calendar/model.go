package calendar

import "time"

// Day stores the emotion tag shown for one user on one calendar day.
type Day struct {
	ID         string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_calendar_user_date,priority:1"`
	Date       string    `gorm:"column:date;size:10;not null;uniqueIndex:idx_calendar_user_date,priority:2"`
	EmotionTag *string   `gorm:"column:emotion_tag;size:64"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Day) TableName() string {
	return "calendar_days"
}

// DayEntry is the public projection of a Day.
type DayEntry struct {
	Date       Date
	EmotionTag *string
}

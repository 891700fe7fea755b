package diary

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Diary is one journal entry. A user owns at most one per calendar day.
type Diary struct {
	ID              string         `gorm:"column:id;primaryKey;size:64;not null"`
	UserID          string         `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_diaries_user_entry_date,priority:1"`
	EntryDate       string         `gorm:"column:entry_date;size:10;not null;uniqueIndex:idx_diaries_user_entry_date,priority:2"`
	Title           string         `gorm:"column:title;size:100;not null"`
	Content         string         `gorm:"column:content;type:text;not null"`
	EmpathyResponse *string        `gorm:"column:empathy_response;type:text"`
	Feedback        *string        `gorm:"column:feedback;type:text"`
	EmotionTag      *string        `gorm:"column:emotion_tag;size:64"`
	Keywords        datatypes.JSON `gorm:"column:keywords"`
	Intensity       string         `gorm:"column:intensity;size:16;not null"`
	CalendarDayID   *string        `gorm:"column:calendar_day_id;size:64;index"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Diary) TableName() string {
	return "diaries"
}

// KeywordList decodes the stored keywords. Malformed or empty columns yield an empty slice.
func (d Diary) KeywordList() []string {
	keywords := []string{}
	if len(d.Keywords) == 0 {
		return keywords
	}
	if err := json.Unmarshal(d.Keywords, &keywords); err != nil || keywords == nil {
		return []string{}
	}
	return keywords
}

func encodeKeywords(keywords []string) datatypes.JSON {
	if keywords == nil {
		keywords = []string{}
	}
	encoded, err := json.Marshal(keywords)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(encoded)
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func textOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

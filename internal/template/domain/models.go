package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// StyleTemplate is one preset in the enhancement style catalog. The catalog
// is read-only at runtime and maintained through seeding.
type StyleTemplate struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id,string"`
	Name       string    `gorm:"not null" json:"name"`
	Slug       string    `gorm:"uniqueIndex:ux_style_templates_slug;not null" json:"slug"`
	RoomType   string    `gorm:"not null" json:"room_type"`
	Tool       string    `gorm:"not null" json:"tool"`
	Prompt     string    `gorm:"not null" json:"-"`
	PreviewURL string    `json:"preview_url"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	SortOrder  int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (StyleTemplate) TableName() string {
	return "style_templates"
}

package models

import (
	"time"
)

// Author gehört zu genau einem Artikel; Position hält die Reihenfolge der Autorenliste fest.
type Author struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ArticleID uint   `json:"article_id" gorm:"index;not null"`
	FirstName string `json:"first_name" gorm:"size:100"`
	LastName  string `json:"last_name" gorm:"size:100"`
	ORCID     string `json:"orcid,omitempty" gorm:"column:orcid;size:50"`
	Email     string `json:"email,omitempty" gorm:"size:255"`
	Position  int    `json:"position" gorm:"not null;default:0"`
}

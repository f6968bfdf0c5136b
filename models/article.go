package models

import (
	"time"
)

// Article repräsentiert einen registrierten Journal-Artikel samt bibliographischer Metadaten.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Normalisierte DOI, der Eindeutigkeitsschlüssel für die Deduplizierung.
	DOI   string `json:"doi" gorm:"column:doi;uniqueIndex;not null;size:512"`
	Title string `json:"title" gorm:"not null;size:1000"`

	Journal   string `json:"journal,omitempty" gorm:"size:255;index"`
	Year      *int   `json:"year,omitempty" gorm:"index"`
	Volume    string `json:"volume,omitempty" gorm:"size:50"`
	Issue     string `json:"issue,omitempty" gorm:"size:50"`
	Pages     string `json:"pages,omitempty" gorm:"size:50"`
	Abstract  string `json:"abstract,omitempty" gorm:"type:text"`
	Publisher string `json:"publisher,omitempty" gorm:"size:255"`
	URL       string `json:"url,omitempty" gorm:"size:500"`

	// Autoren in Publikationsreihenfolge; werden beim Löschen des Artikels mitgelöscht.
	Authors []Author    `json:"authors,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Files   []FileAsset `json:"files,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

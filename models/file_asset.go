package models

import (
	"time"
)

// FileKind klassifiziert eine angeforderte Datei.
type FileKind string

const (
	KindPDF           FileKind = "pdf"
	KindHTML          FileKind = "html"
	KindSupplementary FileKind = "supplementary"
)

// FileStatus beschreibt den Download-Lebenszyklus eines Assets:
// pending → in_progress → succeeded | failed. Ein fehlgeschlagenes Asset
// darf genau einmal erneut nach in_progress wechseln (Retry), danach ist
// failed endgültig.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusInProgress FileStatus = "in_progress"
	StatusSucceeded  FileStatus = "succeeded"
	StatusFailed     FileStatus = "failed"
)

// FileAsset repräsentiert genau einen angeforderten Download für einen Artikel.
// Jedes Asset hat einen unabhängigen Lebenszyklus; ein Fehlschlag beeinflusst
// weder Geschwister-Assets noch den Artikel selbst.
type FileAsset struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ArticleID uint       `json:"article_id" gorm:"index;not null"`
	Kind      FileKind   `json:"kind" gorm:"size:20;not null"`
	SourceURL string     `json:"source_url" gorm:"size:2048;not null"`
	Status    FileStatus `json:"status" gorm:"size:20;not null;default:'pending';index"`

	// LocalRef verweist nach erfolgreichem Download auf das abgelegte Objekt.
	LocalRef string `json:"local_ref,omitempty" gorm:"size:1024"`
	Error    string `json:"error,omitempty" gorm:"size:2048"`

	// Attempts zählt die Claims; ClaimedAt markiert den Beginn des laufenden Transfers.
	Attempts  int        `json:"attempts"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

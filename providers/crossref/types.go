package crossref

import "strings"

// Response ist der Top-Level-Umschlag der CrossRef Works-API.
type Response struct {
	Status  string `json:"status"`
	Message Work   `json:"message"`
}

// Work repräsentiert einen einzelnen Datensatz der Works-API.
// CrossRef liefert Titel und Journal als Listen; wir verwenden jeweils den
// ersten Eintrag.
type Work struct {
	DOI             string       `json:"DOI"`
	Title           []string     `json:"title"`
	ContainerTitle  []string     `json:"container-title"`
	Volume          string       `json:"volume"`
	Issue           string       `json:"issue"`
	Page            string       `json:"page"`
	Abstract        string       `json:"abstract"`
	Publisher       string       `json:"publisher"`
	URL             string       `json:"URL"`
	PublishedPrint  *DateField   `json:"published-print"`
	PublishedOnline *DateField   `json:"published-online"`
	Author          []WorkAuthor `json:"author"`
}

// DateField kapselt CrossRefs date-parts-Format ([[Jahr, Monat, Tag]]).
type DateField struct {
	DateParts [][]int `json:"date-parts"`
}

// Year liefert das Jahr aus dem ersten date-parts-Eintrag oder nil.
func (d *DateField) Year() *int {
	if d == nil || len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return nil
	}
	year := d.DateParts[0][0]
	return &year
}

// WorkAuthor ist ein Autoreneintrag der Works-API.
type WorkAuthor struct {
	Given    string `json:"given"`
	Family   string `json:"family"`
	ORCID    string `json:"ORCID"`
	Sequence string `json:"sequence"`
}

// CleanORCID entfernt die orcid.org-URL-Präfixe aus dem ORCID-Feld.
func (a *WorkAuthor) CleanORCID() string {
	orcid := a.ORCID
	orcid = strings.TrimPrefix(orcid, "https://orcid.org/")
	orcid = strings.TrimPrefix(orcid, "http://orcid.org/")
	return orcid
}

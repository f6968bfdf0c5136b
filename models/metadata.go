package models

// ArticleMetadata ist der normalisierte Datensatz, den ein Registry-Provider
// (CrossRef) liefert. Felder, die upstream fehlen, bleiben leer bzw. nil und
// werden nicht mit Platzhaltern befüllt.
type ArticleMetadata struct {
	DOI       string           `json:"doi"`
	Title     string           `json:"title"`
	Journal   string           `json:"journal,omitempty"`
	Year      *int             `json:"year,omitempty"`
	Volume    string           `json:"volume,omitempty"`
	Issue     string           `json:"issue,omitempty"`
	Pages     string           `json:"pages,omitempty"`
	Abstract  string           `json:"abstract,omitempty"`
	Publisher string           `json:"publisher,omitempty"`
	URL       string           `json:"url,omitempty"`
	Authors   []AuthorMetadata `json:"authors,omitempty"`
}

// AuthorMetadata ist ein Autoreneintrag aus der Registry-Antwort, in Reihenfolge.
type AuthorMetadata struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ORCID     string `json:"orcid,omitempty"`
}

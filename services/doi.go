package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidDoi wird zurückgegeben, wenn eine Eingabe nicht als DOI erkennbar ist.
var ErrInvalidDoi = errors.New("invalid doi")

// DOI-Syntax: 10.<Registrant>/<Suffix>, Registrant numerisch, Suffix nicht leer.
var doiPattern = regexp.MustCompile(`^10\.\d{2,9}(\.\d+)*/\S+$`)

// Bekannte Resolver-Präfixe, die vor der Normalisierung entfernt werden.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI kanonisiert eine rohe DOI-Angabe: Whitespace trimmen,
// Resolver-URL-Präfixe entfernen, klein schreiben. Äquivalente Schreibweisen
// (Groß-/Kleinschreibung, URL-Varianten) kollidieren danach auf denselben
// Schlüssel. Reine Funktion ohne Seiteneffekte.
func NormalizeDOI(raw string) (string, error) {
	doi := strings.ToLower(strings.TrimSpace(raw))
	if doi == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidDoi)
	}
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(doi, prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	if !doiPattern.MatchString(doi) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDoi, raw)
	}
	return doi, nil
}

package analyzer

import (
	"regexp"
	"strings"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// Document type keyword sets. Detection priority is passport, then ID card,
// then driver's license; the first set with a hit wins. Both accented and
// OCR-flattened spellings are listed because OCR engines are inconsistent
// about diacritics.
var (
	passportKeywords = []string{
		"PASSEPORT",
		"PASSPORT",
	}

	idCardKeywords = []string{
		"CARTE NATIONALE",
		"IDENTITÉ",
		"IDENTITE",
		"IDENTITY CARD",
	}

	licenseKeywords = []string{
		"PERMIS DE CONDUIRE",
		"DRIVING LICENCE",
		"DRIVER LICENSE",
		"DRIVING LICENSE",
	}
)

// detectDocumentType returns the first document type whose keyword set
// matches the normalized text. No match returns Unknown and false.
func detectDocumentType(norm string) (domain.DocumentType, bool) {
	if containsAny(norm, passportKeywords) {
		return domain.TypePassport, true
	}
	if containsAny(norm, idCardKeywords) {
		return domain.TypeIDCard, true
	}
	if containsAny(norm, licenseKeywords) {
		return domain.TypeDriverLicense, true
	}
	return domain.TypeUnknown, false
}

func containsAny(norm string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// MRZ shapes. Passport lines start with P< and the ICAO country code. ID
// card lines start with ID and the country code at the start of a line and
// must contain at least one chevron filler, otherwise the word IDENTITY
// would qualify. A run of three or more fillers is accepted on its own
// since no natural OCR text contains it.
var (
	mrzPassportRe = regexp.MustCompile(`P<[A-Z]{3}[A-Z<]+`)
	mrzIDCardRe   = regexp.MustCompile(`(?m)^ID[A-Z]{3}[A-Z0-9]*<[A-Z0-9<]*`)
	mrzFillerRe   = regexp.MustCompile(`<{3,}`)
)

// detectMRZ reports whether the normalized text contains anything shaped
// like a machine-readable zone.
func detectMRZ(norm string) bool {
	return mrzPassportRe.MatchString(norm) ||
		mrzIDCardRe.MatchString(norm) ||
		mrzFillerRe.MatchString(norm)
}

// Official and security markers expected on genuine French identity
// documents. Accented and flattened spellings count as distinct entries,
// which is fine: the check thresholds on distinct hits, not exact fields.
var officialKeywords = []string{
	"RÉPUBLIQUE",
	"REPUBLIQUE",
	"FRANÇAISE",
	"FRANCAISE",
	"FRANCE",
	"NOM",
	"PRÉNOM",
	"PRENOM",
	"DATE",
	"SIGNATURE",
	"NATIONALITÉ",
	"NATIONALITE",
	"SEXE",
	"TAILLE",
	"DÉLIVRÉ",
	"DELIVRE",
}

// countOfficialKeywords counts how many distinct official markers appear in
// the normalized text.
func countOfficialKeywords(norm string) int {
	count := 0
	for _, kw := range officialKeywords {
		if strings.Contains(norm, kw) {
			count++
		}
	}
	return count
}

// docNumberRe matches an isolated run of 8 to 15 uppercase letters or
// digits, the shape of French document numbers.
var docNumberRe = regexp.MustCompile(`\b[A-Z0-9]{8,15}\b`)

// findDocumentNumber returns the first document-number-shaped token in the
// normalized text.
func findDocumentNumber(norm string) (string, bool) {
	match := docNumberRe.FindString(norm)
	if match == "" {
		return "", false
	}
	return match, true
}

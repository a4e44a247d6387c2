// Package analyzer implements the document anti-fraud heuristic engine.
//
// The analyzer consumes raw OCR text from an identity document (passport,
// national ID card or driver's license, predominantly French) and produces a
// deterministic, auditable fraud-risk score. Every point gained or lost maps
// to an independent check with a human-readable flag, so a reviewer can see
// exactly why a document scored the way it did. There is no model here on
// purpose: risk classifications must stay stable and inspectable.
package analyzer

import (
	"strings"
	"time"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// Score contributions per check. The additive model is order-independent:
// each check adds or subtracts a fixed amount regardless of the others.
const (
	typeMatchBonus    = 20
	mrzBonus          = 30
	mrzMissingPenalty = 10
	expiryBonus       = 20
	expiredPenalty    = 20
	birthDateBonus    = 10
	keywordBonus      = 20
	docNumberBonus    = 10
)

// keywordThreshold is the minimum number of distinct official markers a
// readable scan of a genuine document is expected to contain.
const keywordThreshold = 3

// excerptLen is how much of the input is kept for audit (§ rawTextExcerpt).
const excerptLen = 500

// Anomaly flags, in the wording shown to reviewers.
const (
	FlagTypeUncertain = "Document type uncertain"
	FlagNoMRZ         = "No machine-readable zone detected"
	FlagExpired       = "Document potentially expired"
	FlagMinor         = "Driver possibly a minor"
	FlagNoDates       = "No readable date detected"
	FlagFewKeywords   = "Few official markers detected - possibly blurry scan"
)

// Analyzer runs the heuristic checks over OCR text. The zero value is usable:
// with no date format configured, confirmed future expiry dates are reported
// as the "Validated" placeholder instead of a rendered date.
//
// Analyzer is stateless apart from configuration and safe for concurrent use.
type Analyzer struct {
	dateFormat string
	maxTextLen int
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the time source. Used by tests to pin "now".
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// New creates an Analyzer from configuration.
func New(cfg domain.AnalyzerConfig, opts ...Option) *Analyzer {
	a := &Analyzer{
		dateFormat: cfg.DateFormat,
		maxTextLen: cfg.MaxTextLen,
		now:        time.Now,
	}
	if a.maxTextLen <= 0 {
		a.maxTextLen = 100000
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores a block of OCR text and returns a complete analysis result.
// It never fails: garbage input yields a low score, an Unknown type and flags
// explaining why, so the review workflow always receives a usable artifact.
func (a *Analyzer) Analyze(text string) *domain.AnalysisResult {
	now := a.currentTime()

	// Bound input before any pattern matching; adversarial OCR output
	// should cost bounded work, and the tail of a megabyte scan carries
	// no extra signal anyway.
	bounded := truncateRunes(text, a.maxTextLen)

	// Matching is case-insensitive; the original casing survives only in
	// the audit excerpt.
	norm := strings.ToUpper(bounded)

	score := 0
	flags := []string{}

	// Step 1: document type keywords, first match wins.
	docType, typeMatched := detectDocumentType(norm)
	if typeMatched {
		score += typeMatchBonus
	} else {
		flags = append(flags, FlagTypeUncertain)
	}

	// Step 2: machine-readable zone. Driver's licenses carry no MRZ, so
	// its absence is only penalized for the other types.
	mrzFound := detectMRZ(norm)
	if mrzFound {
		score += mrzBonus
	} else if docType != domain.TypeDriverLicense {
		score -= mrzMissingPenalty
		flags = append(flags, FlagNoMRZ)
	}

	// Step 3: date coherence.
	dates := extractDates(norm, now)

	expiry := domain.ExpiryNotFound
	var birthDate *string

	if dates.HasFuture {
		score += expiryBonus
		expiry = a.formatExpiry(dates.LatestFuture)
	} else {
		score -= expiredPenalty
		flags = append(flags, FlagExpired)
	}

	if dates.HasPast {
		age := now.Year() - dates.EarliestPast.Year()
		switch {
		case age >= 18 && age <= 100:
			formatted := a.formatDate(dates.EarliestPast)
			birthDate = &formatted
			score += birthDateBonus
		case age >= 0 && age < 18:
			flags = append(flags, FlagMinor)
		}
	}

	if dates.Total == 0 {
		flags = append(flags, FlagNoDates)
	}

	// Step 4: official keyword density.
	if countOfficialKeywords(norm) >= keywordThreshold {
		score += keywordBonus
	} else {
		flags = append(flags, FlagFewKeywords)
	}

	// Step 5: document number.
	var docNumber *string
	if num, ok := findDocumentNumber(norm); ok {
		docNumber = &num
		score += docNumberBonus
	}

	// Step 6: clamp and classify.
	score = clampScore(score)

	return &domain.AnalysisResult{
		IsValid:      score > domain.ScoreForValidity,
		Score:        score,
		Confidence:   domain.ConfidenceForScore(score),
		DetectedType: docType,
		ExtractedData: domain.ExtractedData{
			MRZFound:   mrzFound,
			ExpiryDate: expiry,
			BirthDate:  birthDate,
			DocNumber:  docNumber,
		},
		Flags:          flags,
		RawTextExcerpt: truncateRunes(text, excerptLen),
	}
}

func (a *Analyzer) currentTime() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// formatExpiry renders a confirmed future date. Without a configured layout
// the date cannot be cleanly isolated for display, so the "Validated"
// placeholder is reported instead of dropping the signal.
func (a *Analyzer) formatExpiry(t time.Time) string {
	if a.dateFormat == "" {
		return domain.ExpiryValidated
	}
	return t.Format(a.dateFormat)
}

// formatDate renders a date in the configured layout, falling back to
// French day-first notation.
func (a *Analyzer) formatDate(t time.Time) string {
	layout := a.dateFormat
	if layout == "" {
		layout = "02/01/2006"
	}
	return t.Format(layout)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// truncateRunes cuts s to at most n runes without splitting UTF-8 sequences.
func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

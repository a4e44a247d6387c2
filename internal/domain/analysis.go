package domain

// DocumentType is the document category recognized by the analyzer.
type DocumentType string

const (
	TypePassport      DocumentType = "Passport"
	TypeIDCard        DocumentType = "IdCard"
	TypeDriverLicense DocumentType = "DriverLicense"
	TypeUnknown       DocumentType = "Unknown"
)

// Confidence is the coarse tier derived from the analysis score.
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// Expiry display sentinels.
const (
	// ExpiryNotFound is reported when no future-dated expiry was found.
	ExpiryNotFound = "NotFound/Expired"

	// ExpiryValidated is reported when a future date exists but could not
	// be rendered in the configured display format.
	ExpiryValidated = "Validated"
)

// ExtractedData holds the fields the analyzer managed to pull out of the text.
type ExtractedData struct {
	MRZFound   bool    `json:"mrzFound"`
	ExpiryDate string  `json:"expiryDate"`
	BirthDate  *string `json:"birthDate"`
	DocNumber  *string `json:"docNumber"`
}

// AnalysisResult is the complete output of one analyzer run over OCR text.
// It is a value object: built once per Analyze call, never mutated after.
// Uncertainty is always expressed as data (low score, Unknown type, flags),
// never as an error, so the review workflow always has something to show.
type AnalysisResult struct {
	// IsValid is true iff Score > 50.
	IsValid bool `json:"isValid"`

	// Score is the aggregate heuristic score, clamped to [0,100].
	// Higher means more likely genuine, not more likely fraudulent.
	Score int `json:"score"`

	Confidence   Confidence   `json:"confidence"`
	DetectedType DocumentType `json:"detectedType"`

	ExtractedData ExtractedData `json:"extractedData"`

	// Flags lists human-readable anomalies in detection order.
	// Never nil: empty slice when nothing was flagged.
	Flags []string `json:"flags"`

	// RawTextExcerpt is the first 500 characters of the input, kept for
	// audit and debugging of reviewer decisions.
	RawTextExcerpt string `json:"rawTextExcerpt"`
}

// ScoreForValidity is the threshold above which a document is considered
// valid. Kept as a named constant so policy expressions and the analyzer
// cannot drift apart.
const ScoreForValidity = 50

// ConfidenceForScore maps a clamped score to its confidence tier.
func ConfidenceForScore(score int) Confidence {
	switch {
	case score > 80:
		return ConfidenceHigh
	case score > ScoreForValidity:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

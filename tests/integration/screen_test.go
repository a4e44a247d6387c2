//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel document screening engine.
//
// These tests verify the COMPLETE screening pipeline:
//
//	OCR Text → Analyzer → Policies → Decision → Final Status
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. DOCUMENT: OCR-extracted text from a French identity document submitted
//    by a renter (passport, national ID card, driver's license)
//
// 2. ANALYZER: Pure heuristic scoring over the raw text:
//   - Document type keyword (PASSEPORT, CARTE NATIONALE...)  → +20
//   - Machine-readable zone (MRZ) present                    → +30 (absence -10)
//   - Expiry date in the future                              → +20 (past date -20)
//   - Plausible birth date (holder aged 18-100)              → +10
//   - Three or more identity keywords                        → +20
//   - Document number pattern                                → +10
//     Score is clamped to [0, 100]; score > 50 means the document looks valid.
//
// 3. POLICY: A CEL expression over the analysis (score, flags, resubmission
//    count...) with an action: approve, review, or reject.
//
// 4. DECISION: Baseline from validity (APPROVED / REVIEW), then the most
//    severe triggered policy action wins. Final status is "APPROVED",
//    "REVIEW" or "REJECTED".
//
// POLICIES: Screening works with zero configured policies (pure heuristic
// baseline). Tests that need a policy create it via POST /policies first.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// ScreenRequest is the document sent to POST /screen
type ScreenRequest struct {
	Text          string         `json:"text"`
	RenterID      string         `json:"renterId"`
	ReservationID string         `json:"reservationId,omitempty"`
	Source        string         `json:"source,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ScreenResponse is what POST /screen returns in sync mode
type ScreenResponse struct {
	ScreeningID string           `json:"screeningId"`
	DocumentID  string           `json:"documentId"`
	Status      string           `json:"status"` // "APPROVED", "REVIEW" or "REJECTED"
	Score       int              `json:"score"`  // 0 to 100
	Analysis    AnalysisResult   `json:"analysis"`
	Reasons     []string         `json:"reasons"`
	Metadata    ResponseMetadata `json:"metadata"`
}

type AnalysisResult struct {
	Score        int      `json:"score"`
	IsValid      bool     `json:"isValid"`
	DocumentType string   `json:"documentType"`
	Confidence   string   `json:"confidence"`
	Flags        []string `json:"flags,omitempty"`
}

type ResponseMetadata struct {
	TraceID       string `json:"traceId"`
	IngestMs      int64  `json:"ingestMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ============================================================================
// Document Fixtures
// ============================================================================

// A clean French passport: type keyword, MRZ, future expiry, plausible birth
// date, several keywords, a document number. Scores at the ceiling.
const validPassportText = `RÉPUBLIQUE FRANÇAISE
PASSEPORT
NOM: DUPONT
PRÉNOM: JEAN
NATIONALITÉ: FRANÇAISE
NÉ LE 10/02/1990
EXPIRE LE 20/05/2099
P<FRADUPONT<<JEAN<<<<<<<<<<<<<<<<<<<<<<<<<<<`

// An expired passport: identical but the expiry date is in the past.
const expiredPassportText = `RÉPUBLIQUE FRANÇAISE
PASSEPORT
NOM: DURAND
PRÉNOM: MARIE
NATIONALITÉ: FRANÇAISE
NÉE LE 15/03/1985
EXPIRE LE 20/05/2015
P<FRADURAND<<MARIE<<<<<<<<<<<<<<<<<<<<<<<<<<`

// Not an identity document at all: no type keyword, no MRZ, no dates
// the analyzer recognizes.
const utilityBillText = `FACTURE EDF MONTANT 42 EUROS A REGLER AVANT FIN DU MOIS`

// ============================================================================
// Test Helper Functions
// ============================================================================

func screen(t *testing.T, config TestConfig, req ScreenRequest) ScreenResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/screen", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result ScreenResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func postRaw(t *testing.T, config TestConfig, req ScreenRequest, withTenant bool) *http.Response {
	t.Helper()

	body, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/screen", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if withTenant {
		httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

// ============================================================================
// SCENARIO 1: Valid Passport (Approved)
// ============================================================================

func TestValidPassport_Approved(t *testing.T) {
	/*
	   SCENARIO: A clean French passport with every positive signal present

	   EXPECTED BEHAVIOR:
	   - Type keyword "PASSEPORT"        → +20
	   - MRZ line present                → +30
	   - Expiry 20/05/2099 in the future → +20
	   - Birth date 10/02/1990 (adult)   → +10
	   - 3+ identity keywords            → +20
	   - Document number pattern         → +10
	   Score clamps to 100 → isValid → baseline APPROVED

	   FINAL DECISION: "APPROVED" (no policy overrides it)
	*/
	config := getTestConfig()

	req := ScreenRequest{
		Text:     validPassportText,
		RenterID: "renter-valid-001",
		Source:   "mobile-upload",
	}

	result := screen(t, config, req)

	// ASSERTIONS
	if result.Status != "APPROVED" {
		t.Errorf("Expected status APPROVED, got %s", result.Status)
	}

	if result.Score <= 50 {
		t.Errorf("Expected score above validity threshold (> 50), got %d", result.Score)
	}

	if result.Analysis.DocumentType != "Passport" {
		t.Errorf("Expected document type Passport, got %s", result.Analysis.DocumentType)
	}

	if result.Analysis.Confidence != "High" {
		t.Errorf("Expected High confidence for a clean passport, got %s", result.Analysis.Confidence)
	}

	t.Logf("✓ Valid passport approved: status=%s, score=%d, type=%s",
		result.Status, result.Score, result.Analysis.DocumentType)
}

// ============================================================================
// SCENARIO 2: Expired Passport (Review)
// ============================================================================

func TestExpiredPassport_Review(t *testing.T) {
	/*
	   SCENARIO: Same passport layout, but the expiry date is in 2015

	   EXPECTED BEHAVIOR:
	   - The expired date flips the expiry signal from +20 to -20
	     (a 40-point swing against the document)
	   - The expired-document flag is raised on the analysis
	   - Whether the score still crosses 50 depends on the other signals;
	     the flag must be present either way

	   WHY THIS TEST:
	   Expired documents are the most common honest-mistake submission.
	   They should never be silently approved as if current.
	*/
	config := getTestConfig()

	req := ScreenRequest{
		Text:     expiredPassportText,
		RenterID: "renter-expired-001",
		Source:   "mobile-upload",
	}

	result := screen(t, config, req)

	hasExpiredFlag := false
	for _, f := range result.Analysis.Flags {
		if f == "Document potentially expired" {
			hasExpiredFlag = true
		}
	}
	if !hasExpiredFlag {
		t.Errorf("Expected expired flag, got flags=%v", result.Analysis.Flags)
	}

	// Score must be strictly lower than the valid passport's ceiling
	if result.Score >= 100 {
		t.Errorf("Expected reduced score for expired document, got %d", result.Score)
	}

	t.Logf("✓ Expired passport flagged: status=%s, score=%d, flags=%v",
		result.Status, result.Score, result.Analysis.Flags)
}

// ============================================================================
// SCENARIO 3: Non-Identity Document (Review)
// ============================================================================

func TestUtilityBill_Review(t *testing.T) {
	/*
	   SCENARIO: A renter submits a utility bill instead of an ID

	   EXPECTED BEHAVIOR:
	   - No type keyword, no MRZ (-10), no recognized dates
	   - Score clamps to 0, confidence Low, type Unknown
	   - Baseline decision: REVIEW (never auto-reject without a policy)

	   WHY THIS MATTERS:
	   The heuristic engine routes garbage to a human instead of rejecting,
	   since OCR noise on a real ID can look just as bad as a wrong document.
	*/
	config := getTestConfig()

	req := ScreenRequest{
		Text:     utilityBillText,
		RenterID: "renter-bill-001",
		Source:   "email",
	}

	result := screen(t, config, req)

	if result.Status != "REVIEW" {
		t.Errorf("Expected REVIEW for non-identity document, got %s", result.Status)
	}

	if result.Analysis.DocumentType != "Unknown" {
		t.Errorf("Expected Unknown document type, got %s", result.Analysis.DocumentType)
	}

	if result.Analysis.Confidence != "Low" {
		t.Errorf("Expected Low confidence, got %s", result.Analysis.Confidence)
	}

	if len(result.Reasons) == 0 {
		t.Error("Expected at least one reason explaining the review routing")
	}

	t.Logf("✓ Utility bill routed to review: status=%s, score=%d, reasons=%v",
		result.Status, result.Score, result.Reasons)
}

// ============================================================================
// SCENARIO 4: Reject Policy Overrides Baseline
// ============================================================================

func TestRejectPolicy_OverridesApproval(t *testing.T) {
	/*
	   SCENARIO: A tenant policy rejects any document without an MRZ,
	   then a document that would otherwise pass review is screened

	   EXPECTED BEHAVIOR:
	   - Policy "!mrz_found" with action reject is created via the API
	   - The utility bill (no MRZ) now comes back REJECTED instead of REVIEW
	   - Most-severe-action-wins: reject > review > approve

	   CLEANUP: the policy is deleted afterwards so other tests see the
	   plain heuristic baseline.
	*/
	config := getTestConfig()

	policyBody := map[string]any{
		"id":         "integration-no-mrz-reject",
		"name":       "Reject missing MRZ",
		"expression": "!mrz_found",
		"action":     "reject",
		"reason":     "Document has no machine-readable zone",
		"enabled":    true,
	}
	body, _ := json.Marshal(policyBody)

	createReq, _ := http.NewRequest("POST", config.BaseURL+"/policies", bytes.NewReader(body))
	createReq.Header.Set("Content-Type", "application/json")
	createReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(createReq)
	if err != nil {
		t.Fatalf("Failed to create policy: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 201 creating policy, got %d", resp.StatusCode)
	}

	// Creating only persists; hot-reload activates the policy in the engine
	reloadReq, _ := http.NewRequest("POST", config.BaseURL+"/policies/reload", nil)
	reloadReq.Header.Set("X-Tenant-ID", config.TenantID)
	resp, err = client.Do(reloadReq)
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 reloading policies, got %d", resp.StatusCode)
	}

	defer func() {
		delReq, _ := http.NewRequest("DELETE", config.BaseURL+"/policies/integration-no-mrz-reject", nil)
		delReq.Header.Set("X-Tenant-ID", config.TenantID)
		if resp, err := client.Do(delReq); err == nil {
			resp.Body.Close()
		}
	}()

	result := screen(t, config, ScreenRequest{
		Text:     utilityBillText + " REFERENCE CLIENT UNIQUE",
		RenterID: "renter-policy-001",
		Source:   "email",
	})

	if result.Status != "REJECTED" {
		t.Errorf("Expected REJECTED under no-MRZ policy, got %s", result.Status)
	}

	hasPolicyReason := false
	for _, r := range result.Reasons {
		if r == "Document has no machine-readable zone" {
			hasPolicyReason = true
		}
	}
	if !hasPolicyReason {
		t.Errorf("Expected policy reason in response, got %v", result.Reasons)
	}

	t.Logf("✓ Reject policy overrode baseline: status=%s, reasons=%v",
		result.Status, result.Reasons)
}

// ============================================================================
// SCENARIO 5: Resubmission Velocity
// ============================================================================

func TestResubmission_CountsPerRenter(t *testing.T) {
	/*
	   SCENARIO: The same renter submits three documents in quick succession

	   EXPECTED BEHAVIOR:
	   - Each submission is stored per (tenant, renter)
	   - The resubmission_count CEL variable reflects prior submissions,
	     so a velocity policy could fire on the third attempt

	   This test only verifies the screenings all succeed and stay retrievable;
	   the velocity policy itself is covered by unit tests.
	*/
	config := getTestConfig()

	renterID := fmt.Sprintf("renter-velocity-%d", time.Now().UnixNano())

	var lastID string
	for i := 0; i < 3; i++ {
		result := screen(t, config, ScreenRequest{
			Text:     validPassportText,
			RenterID: renterID,
			Source:   "mobile-upload",
		})
		if result.ScreeningID == "" {
			t.Fatalf("Submission %d returned no screening ID", i+1)
		}
		lastID = result.ScreeningID
	}

	// The last screening must be retrievable by ID
	getReq, _ := http.NewRequest("GET", config.BaseURL+"/screenings/"+lastID, nil)
	getReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(getReq)
	if err != nil {
		t.Fatalf("Failed to fetch screening: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 fetching screening %s, got %d", lastID, resp.StatusCode)
	}

	t.Logf("✓ Three resubmissions stored and retrievable (last=%s)", lastID[:8])
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestTextTooShort_Error(t *testing.T) {
	/*
	   SCENARIO: Request with OCR text below the minimum length

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp := postRaw(t, config, ScreenRequest{
		Text:     "CNI", // Too short!
		RenterID: "renter-short-001",
	}, true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for too-short text, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: short text → HTTP %d", resp.StatusCode)
}

func TestMissingRenterID_Error(t *testing.T) {
	/*
	   SCENARIO: Request missing the required renterId field

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp := postRaw(t, config, ScreenRequest{
		Text:     validPassportText,
		RenterID: "", // Missing!
	}, true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing renterId, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing renterId → HTTP %d", resp.StatusCode)
}

func TestMissingTenantHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Tenant-ID header

	   BEHAVIOR: Returns HTTP 400 Bad Request (not 401).
	   Tenant ID is validated as a required field, not as auth.
	*/
	config := getTestConfig()

	resp := postRaw(t, config, ScreenRequest{
		Text:     validPassportText,
		RenterID: "renter-notenant-001",
	}, false)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 400 or 401 for missing tenant, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing tenant → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 7: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := screen(t, config, ScreenRequest{
		Text:     validPassportText,
		RenterID: "renter-metadata-001",
		Source:   "mobile-upload",
	})

	// Verify all required fields are present
	if result.ScreeningID == "" {
		t.Error("Missing screeningId")
	}

	if result.DocumentID == "" {
		t.Error("Missing documentId")
	}

	if result.Status != "APPROVED" && result.Status != "REVIEW" && result.Status != "REJECTED" {
		t.Errorf("Invalid status: %s (expected APPROVED, REVIEW or REJECTED)", result.Status)
	}

	if result.Score < 0 || result.Score > 100 {
		t.Errorf("Score out of range: %d (expected 0-100)", result.Score)
	}

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	if result.Metadata.EngineVersion == "" {
		t.Error("Missing metadata.engineVersion")
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: screeningId=%s, documentId=%s, traceId=%s, totalMs=%d",
		result.ScreeningID[:8], result.DocumentID[:8], result.Metadata.TraceID[:8], result.Metadata.TotalMs)
}

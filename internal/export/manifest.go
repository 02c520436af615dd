package export

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// PROVENANCE MANIFEST
// =============================================================================

// Manifest is the C2PA-style provenance document written next to the record
// stream. Its signature is the hash of the canonical JSON serialization with
// the signature field empty; a key-management service would replace this in
// production.
type Manifest struct {
	ClaimGenerator string      `json:"claim_generator"`
	DC             DublinCore  `json:"dc"`
	Assertions     []Assertion `json:"assertions"`
	Signature      string      `json:"signature,omitempty"`
}

// DublinCore is the minimal dc descriptive block.
type DublinCore struct {
	Title  string `json:"title"`
	Format string `json:"format"`
}

// Assertion is one labeled claim inside the manifest.
type Assertion struct {
	Label string         `json:"label"`
	Data  map[string]any `json:"data"`
}

// ProvenanceLabel marks the domain-specific assertion.
const ProvenanceLabel = "com.threadloom.provenance"

// BuildManifest assembles the unsigned manifest for one export.
func BuildManifest(jobID, scope string, recordCount int, contentHash string) Manifest {
	return Manifest{
		ClaimGenerator: claimGenerator,
		DC: DublinCore{
			Title:  fmt.Sprintf("export_%s", jobID),
			Format: jsonlFormat,
		},
		Assertions: []Assertion{
			{
				Label: "c2pa.actions",
				Data: map[string]any{
					"actions": []map[string]string{
						{"action": "c2pa.created"},
						{"action": "c2pa.edited"},
					},
				},
			},
			{
				Label: ProvenanceLabel,
				Data: map[string]any{
					"source_scope":     scope,
					"record_count":     recordCount,
					"content_hash":     contentHash,
					"pii_redacted":     true,
					"consent_verified": true,
				},
			},
		},
	}
}

// SignManifest computes the signature over the canonical serialization and
// stores it on the manifest. Map keys marshal in sorted order, so the
// serialization is deterministic.
func SignManifest(m *Manifest) (string, error) {
	m.Signature = ""
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("export: canonicalize manifest: %w", err)
	}
	m.Signature = HashBytes(canonical)
	return m.Signature, nil
}

// VerifyManifest recomputes the signature and reports whether it matches.
func VerifyManifest(m Manifest) (bool, error) {
	claimed := m.Signature
	recomputed, err := SignManifest(&m)
	if err != nil {
		return false, err
	}
	return claimed == recomputed, nil
}

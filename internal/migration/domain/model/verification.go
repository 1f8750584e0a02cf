package model

import "time"

// VerificationStatus is the outcome of one Verifier run over a collection.
type VerificationStatus string

const (
	VerificationOK       VerificationStatus = "ok"
	VerificationMismatch VerificationStatus = "mismatch"
	VerificationFailed   VerificationStatus = "failed"
)

// VerificationMode selects how much of the collection is compared.
type VerificationMode string

const (
	// VerifySampled fingerprints a bounded sample of documents.
	VerifySampled VerificationMode = "sampled"
	// VerifyExhaustive fingerprints every document.
	VerifyExhaustive VerificationMode = "exhaustive"
)

// VerificationResult is produced fresh by each Verifier run and never mutated
// afterward. The Verifier only reports; correction is the Applier's job.
type VerificationResult struct {
	RunID         string             `json:"run_id"`
	CollectionID  string             `json:"collection_id"`
	SourceCount   int64              `json:"source_count"`
	TargetCount   int64              `json:"target_count"`
	MismatchedIDs []string           `json:"mismatched_ids,omitempty"`
	MissingIDs    []string           `json:"missing_ids,omitempty"`
	ExtraIDs      []string           `json:"extra_ids,omitempty"`
	IndexesMatch  bool               `json:"indexes_match"`
	CheckedDocs   int                `json:"checked_docs"`
	Status        VerificationStatus `json:"status"`
	VerifiedAt    time.Time          `json:"verified_at"`
}

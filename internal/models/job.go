package models

import (
	"time"
)

// JobState enumerates lifecycle states held in the registry.
const (
	StateQueued          = "queued"
	StateRunning         = "running"
	StateCompleted       = "completed"
	StateFailed          = "failed"
	StateCancelled       = "cancelled"
	StateRetainedDeleted = "retained_deleted"
)

// Terminal reports whether a state admits no further pipeline work.
func Terminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled, StateRetainedDeleted:
		return true
	}
	return false
}

// Stage outcomes.
const (
	OutcomePass = "pass"
	OutcomeFail = "fail"
	OutcomeSkip = "skip"
)

// Failure reasons carried on verdicts and stage details. Closed set;
// anything free-form goes to logs only.
const (
	ReasonFormatInvalid   = "format_invalid"
	ReasonThreatsDetected = "threats_detected"
	ReasonAdversarial     = "adversarial"
	ReasonTimeout         = "timeout"
	ReasonCancelled       = "cancelled"
	ReasonStorageError    = "storage_error"
	ReasonIntegrityError  = "integrity_error"
	ReasonInternal        = "internal"
)

// Stage names, in pipeline order.
const (
	StageAdmit    = "admit"
	StageFormat   = "format"
	StageIDS      = "ids"
	StageAML      = "aml"
	StagePersist  = "persist"
	StageAnalyze  = "analyze"
	StageFinalize = "finalize"
)

// StageRecord captures one executed (or skipped) pipeline stage.
// Detail holds a per-stage summary, never input bytes.
type StageRecord struct {
	Name       string      `json:"name"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Outcome    string      `json:"outcome"`
	Detail     StageDetail `json:"detail"`
}

// StageDetail is the tagged union of per-stage summaries. At most one
// pointer field is set, matching the stage kind.
type StageDetail struct {
	Admit   *AdmitDetail   `json:"admit,omitempty"`
	Format  *FormatDetail  `json:"format,omitempty"`
	IDS     *IDSDetail     `json:"ids,omitempty"`
	AML     *AMLDetail     `json:"aml,omitempty"`
	Persist *PersistDetail `json:"persist,omitempty"`
	Analyze *AnalyzeDetail `json:"analyze,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Timeout bool           `json:"timeout,omitempty"`
}

// AdmitDetail records admission facts for the upload.
type AdmitDetail struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// FormatViolation points at one offending byte in the input.
type FormatViolation struct {
	Char   string `json:"char"`
	Offset int64  `json:"offset"`
	Header string `json:"header"`
}

// FormatDetail summarizes the structural validation of an upload.
type FormatDetail struct {
	Format     string            `json:"format"`
	Records    int               `json:"records"`
	Violations []FormatViolation `json:"violations,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
}

// CategoryCount pairs a threat category with its hit count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// IDSDetail summarizes a pattern scan. Matched bytes are never included.
type IDSDetail struct {
	Score         int             `json:"score"`
	Threshold     int             `json:"threshold"`
	MatchCount    int             `json:"match_count"`
	TopCategories []CategoryCount `json:"top_categories,omitempty"`
	SampleOffsets []int64         `json:"sample_offsets,omitempty"`
}

// AMLDetail summarizes the anomaly-detector verdict.
type AMLDetail struct {
	Score          float64 `json:"score"`
	Threshold      float64 `json:"threshold"`
	FeatureDim     int     `json:"feature_dim"`
	BodyLengthUsed int     `json:"body_length_used"`
	ModelLoaded    bool    `json:"model_loaded"`
}

// PersistDetail summarizes the stored artifact.
type PersistDetail struct {
	ContentHash  string `json:"content_hash"`
	StoredSize   int64  `json:"stored_size"`
	AlgorithmTag string `json:"algorithm_tag"`
}

// AnalyzeDetail carries the analysis collaborator's result.
type AnalyzeDetail struct {
	Result *AnalysisResult `json:"result,omitempty"`
}

// AnalysisResult is the small structured output of the analyze stage.
type AnalysisResult struct {
	Records    int     `json:"records"`
	TotalBases int64   `json:"total_bases"`
	GCFraction float64 `json:"gc_fraction"`
	MinLength  int     `json:"min_length"`
	MaxLength  int     `json:"max_length"`
	MeanLength float64 `json:"mean_length"`
}

// ArtifactRef identifies a stored, encrypted artifact. ContentHash is
// SHA-256 over the plaintext; KeyFingerprint is SHA-256 of the key
// material, never the key itself.
type ArtifactRef struct {
	ContentHash    string `json:"content_hash"`
	CiphertextPath string `json:"ciphertext_path"`
	OriginalSize   int64  `json:"original_size"`
	StoredSize     int64  `json:"stored_size"`
	AlgorithmTag   string `json:"algorithm_tag"`
	KeyFingerprint string `json:"key_fingerprint"`
}

// DeletionProof lets a holder verify that the server asserted deletion
// of a specific artifact at a specific time.
type DeletionProof struct {
	JobID               string    `json:"job_id"`
	ArtifactContentHash string    `json:"artifact_content_hash"`
	DeletionTimestamp   time.Time `json:"deletion_timestamp"`
	ProofDigest         string    `json:"proof_digest"`
}

// Verdict is the terminal per-job outcome summary.
type Verdict struct {
	TerminalState   string          `json:"terminal_state"`
	Reason          string          `json:"reason,omitempty"`
	Stages          []StageRecord   `json:"stages"`
	ArtifactRef     *ArtifactRef    `json:"artifact_ref,omitempty"`
	AnalysisResult  *AnalysisResult `json:"analysis_result,omitempty"`
	AnalysisOK      bool            `json:"analysis_ok"`
	IDSScore        int             `json:"ids_score"`
	AMLScore        float64         `json:"aml_score"`
	TotalDurationMS int64           `json:"total_duration_ms"`
}

// JobView is a read-only snapshot of a job, safe to hand to many
// concurrent readers.
type JobView struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	Size        int64         `json:"size"`
	State       string        `json:"state"`
	StageCursor int           `json:"stage_cursor"`
	Stages      []StageRecord `json:"stages"`
	ReceivedAt  time.Time     `json:"received_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DeletionAt  *time.Time    `json:"deletion_at,omitempty"`
	Verdict     *Verdict      `json:"verdict,omitempty"`
	ArtifactRef *ArtifactRef  `json:"artifact_ref,omitempty"`
}

package domain

import "time"

type GenerationMode string

const (
	GenerationModeDefault GenerationMode = "generation"
	GenerationModeEdit    GenerationMode = "edit"
)

// GenerationRequest carries the caller-supplied parameters for a
// text-to-image run. Immutable once constructed.
type GenerationRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
	Seed           *int64
	BatchCount     int
}

// EditRequest carries the parameters for an image-edit run. Each input
// image may be inline bytes, an http(s) URL, or a reference into the
// external image store; exactly one of the three is set per ImageRef.
type EditRequest struct {
	Images []ImageRef
	Prompt string
	Model  string
	Width  int
	Height int
}

type ImageRef struct {
	Data   []byte
	URL    string
	FileID string
}

// GenerationParameters is the resolved per-request parameter set handed
// to the node mapper. Images holds backend-assigned asset names, so any
// uploads happen before mapping.
type GenerationParameters struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
	Seed           *int64
	BatchCount     int
	Images         []string
}

type ExecutionState string

const (
	ExecutionStateQueued    ExecutionState = "queued"
	ExecutionStateExecuting ExecutionState = "executing"
	ExecutionStateCompleted ExecutionState = "completed"
	ExecutionStateFailed    ExecutionState = "failed"
)

// ExecutionSession correlates one submitted job with its event stream.
// Sessions are request-scoped and never shared across requests.
type ExecutionSession struct {
	JobID           string
	ClientSessionID string
	State           ExecutionState
	SubmittedAt     time.Time
}

type ArtifactCategory string

const (
	ArtifactCategoryInput  ArtifactCategory = "input"
	ArtifactCategoryTemp   ArtifactCategory = "temp"
	ArtifactCategoryOutput ArtifactCategory = "output"
)

// OutputArtifact is one image reference extracted from the backend's
// execution history, resolved to a retrievable URL.
type OutputArtifact struct {
	NodeID    string
	Filename  string
	Subfolder string
	Category  ArtifactCategory
	URL       string
}

// Artifact is the caller-facing result: a URL the caller may fetch at
// its leisure. The client composes the URL but never dereferences it.
type Artifact struct {
	URL string
}

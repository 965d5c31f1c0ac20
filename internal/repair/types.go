package repair

import (
	"fmt"
	"time"

	"github.com/lucasnoah/mender/internal/artifact"
	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/config"
	"github.com/lucasnoah/mender/internal/detect"
	"github.com/lucasnoah/mender/internal/feedback"
	"github.com/lucasnoah/mender/internal/sandbox"
)

// State is a controller state.
type State string

const (
	StateAnalyze   State = "analyze"
	StateRepair    State = "repair"
	StateValidate  State = "validate"
	StateSuccess   State = "success"
	StateExhausted State = "exhausted"
	StateAborted   State = "aborted"
)

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateExhausted || s == StateAborted
}

// Status is the per-item outcome shown to operators.
type Status string

const (
	StatusFixed     Status = "fixed"
	StatusExhausted Status = "unfixed-exhausted"
	StatusAborted   Status = "aborted"
)

// FailureKind classifies a recoverable failure. These are recorded on the
// WorkItem and fed back to the oracle, never returned as errors.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureSyntax     FailureKind = "syntax"
	FailureSecurity   FailureKind = "security"
	FailureHarness    FailureKind = "harness"
	FailureCollection FailureKind = "collection"
	FailureAssertion  FailureKind = "assertion"
	FailureTimeout    FailureKind = "timeout"
	FailureOracle     FailureKind = "oracle"
)

// ConfigurationError aborts a run before any iteration.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

func configError(v *config.ValidationError) *ConfigurationError {
	return &ConfigurationError{Field: v.Field, Message: v.Message}
}

// SandboxViolation aborts one item when a path escapes the sandbox.
type SandboxViolation struct {
	Item string
	Err  *sandbox.PathEscapeError
}

func (e *SandboxViolation) Error() string {
	return fmt.Sprintf("sandbox violation for %s: %v", e.Item, e.Err)
}

func (e *SandboxViolation) Unwrap() error { return e.Err }

// Attempt records what happened in one iteration.
type Attempt struct {
	Iteration  int           `json:"iteration"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Resolved   bool          `json:"resolved"`
	Duration   time.Duration `json:"duration"`
}

// WorkItem is the state of one repair request. Stages take a WorkItem and
// return the updated copy.
type WorkItem struct {
	Name          string
	OriginalCode  string
	SourceCode    string
	MaxIterations int

	// IterationCount is incremented at the start of every REPAIR and never
	// exceeds MaxIterations.
	IterationCount int
	State          State
	IsResolved     bool

	// LastGoodSource is the most recent source that passed the content gate.
	LastGoodSource string
	SyntaxValid    bool

	Findings        []detect.Finding
	Lint            string
	Plan            string
	PendingFeedback []feedback.Item

	LastFailure       FailureKind
	LastFailureReport string
	GeneratedTests    string
	Execution         *checks.ExecutionResult

	History []Attempt

	// keepFiles retains the iteration's workspace files for inspection.
	keepFiles    bool
	repairFailed bool
	abortReason  string
	started      time.Time
}

// Report is the outcome of Controller.Run.
type Report struct {
	RunID                string             `json:"run_id"`
	Name                 string             `json:"name"`
	Status               Status             `json:"status"`
	Iterations           int                `json:"iterations"`
	MaxIterations        int                `json:"max_iterations"`
	LastFailure          FailureKind        `json:"last_failure,omitempty"`
	LastDiagnostic       string             `json:"last_diagnostic,omitempty"`
	Artifact             *artifact.Artifact `json:"artifact,omitempty"`
	DocumentationCreated bool               `json:"documentation_created"`
	History              []Attempt          `json:"history"`
	OriginalCode         string             `json:"-"`
	FinalCode            string             `json:"-"`
	Duration             time.Duration      `json:"duration"`
}

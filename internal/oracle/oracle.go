// Package oracle wraps the external text-generation service that plans
// repairs, rewrites code and writes tests and documentation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/mender/internal/prompt"
)

// Prompt is one request to a provider.
type Prompt struct {
	System string
	User   string
}

// Client is a text-generation provider.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, p Prompt) (string, error)

func (f ClientFunc) Complete(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// TransportError wraps a provider failure, including timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err came from the provider call itself.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

const systemPrompt = "You are a senior Python engineer. You repair defective code conservatively, " +
	"keep public signatures unchanged and answer exactly in the format requested."

// Options configures an Oracle.
type Options struct {
	// Timeout bounds each provider call. Zero means 2 minutes.
	Timeout time.Duration
	// PromptsDir optionally overrides the built-in prompt templates.
	PromptsDir string
	Logger     *zap.Logger
}

// Oracle renders prompts, calls the provider under a timeout and extracts
// usable output from the reply.
type Oracle struct {
	client     Client
	timeout    time.Duration
	promptsDir string
	log        *zap.Logger
}

// New returns an Oracle backed by client.
func New(client Client, opts Options) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Oracle{client: client, timeout: opts.Timeout, promptsDir: opts.PromptsDir, log: opts.Logger}
}

// PlanRequest is the input to Plan.
type PlanRequest struct {
	FileName    string
	Source      string
	Findings    string
	Lint        string
	LastFailure string
	Iteration   int
}

// FixRequest is the input to Fix.
type FixRequest struct {
	FileName      string
	Source        string
	Plan          string
	Feedback      string
	LastFailure   string
	Iteration     int
	MaxIterations int
}

// Plan asks for a numbered repair plan.
func (o *Oracle) Plan(ctx context.Context, req PlanRequest) (string, error) {
	text, err := o.call(ctx, "plan", prompt.Analyze, prompt.Vars{
		"file_name":    req.FileName,
		"source":       req.Source,
		"findings":     req.Findings,
		"lint":         req.Lint,
		"last_failure": req.LastFailure,
		"iteration":    strconv.Itoa(req.Iteration),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Fix asks for a corrected module and returns the extracted code.
func (o *Oracle) Fix(ctx context.Context, req FixRequest) (string, error) {
	text, err := o.call(ctx, "fix", prompt.Fix, prompt.Vars{
		"file_name":      req.FileName,
		"source":         req.Source,
		"plan":           req.Plan,
		"feedback":       req.Feedback,
		"last_failure":   req.LastFailure,
		"iteration":      strconv.Itoa(req.Iteration),
		"max_iterations": strconv.Itoa(req.MaxIterations),
	})
	if err != nil {
		return "", err
	}
	return ExtractCode(text)
}

// Tests asks for a pytest module exercising source, importable as module.
func (o *Oracle) Tests(ctx context.Context, source, module string) (string, error) {
	text, err := o.call(ctx, "tests", prompt.Tests, prompt.Vars{
		"source":      source,
		"module_name": module,
	})
	if err != nil {
		return "", err
	}
	return ExtractCode(text)
}

// Document asks for Markdown documentation of the repaired module.
func (o *Oracle) Document(ctx context.Context, fileName, source, changes string) (string, error) {
	text, err := o.call(ctx, "document", prompt.Document, prompt.Vars{
		"file_name": fileName,
		"source":    source,
		"changes":   changes,
	})
	if err != nil {
		return "", err
	}
	doc := strings.TrimSpace(unwrapFence(text, "markdown", "md"))
	if doc == "" {
		return "", fmt.Errorf("oracle returned empty documentation")
	}
	return doc, nil
}

func (o *Oracle) call(ctx context.Context, op, tmplName string, vars prompt.Vars) (string, error) {
	tmpl, err := prompt.Load(tmplName, o.promptsDir)
	if err != nil {
		return "", fmt.Errorf("load %s prompt: %w", op, err)
	}
	user, err := prompt.Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	text, err := o.client.Complete(callCtx, Prompt{System: systemPrompt, User: user})
	o.log.Debug("oracle call",
		zap.String("op", op),
		zap.Int("prompt_bytes", len(user)),
		zap.Int("reply_bytes", len(text)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	return text, nil
}

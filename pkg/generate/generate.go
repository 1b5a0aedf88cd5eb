// Package generate wraps the remote AI text-generation service behind a
// small Generator interface and normalizes its outcomes, including the
// error taxonomy the UI maps to user-facing messages.
package generate

import (
	"context"

	"github.com/guillefidelio/reviewpilot/pkg/review"
)

// Source tags distinguish who initiated a request, preventing
// double-submission when both a contained frame and its host observe the
// same user action.
const (
	// SourceDirect marks a request initiated by the surface that owns the
	// privileged channel.
	SourceDirect = "direct"

	// SourceRelayed marks a request forwarded from a contained surface.
	SourceRelayed = "relayed"
)

// Request is one generation request.
type Request struct {
	// Review is the extracted review context.
	Review review.Context `json:"review"`

	// InputKey identifies the originating reply input.
	InputKey string `json:"inputKey"`

	// Source is SourceDirect or SourceRelayed.
	Source string `json:"source"`
}

// Result is the normalized generation outcome.
type Result struct {
	Success    bool   `json:"success"`
	AIResponse string `json:"aiResponse,omitempty"`
	Error      string `json:"error,omitempty"`

	// ErrorClass classifies a failure for user messaging.
	ErrorClass Class `json:"errorClass,omitempty"`

	// Usage accounting, treated as opaque pass-through.
	CreditsRemaining *int   `json:"creditsRemaining,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs,omitempty"`
	Model            string `json:"model,omitempty"`
}

// Generator produces a reply for a review.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// Class buckets generation failures by cause. Every class maps to a
// distinct user-facing message and remedy; all share the same control-state
// transition.
type Class string

const (
	ClassNone       Class = ""
	ClassAuth       Class = "auth"
	ClassCredits    Class = "credits"
	ClassValidation Class = "validation"
	ClassServer     Class = "server"
	ClassNetwork    Class = "network"
)

// UserMessage returns the user-facing message and remedy for a failure
// class.
func (c Class) UserMessage() string {
	switch c {
	case ClassAuth:
		return "Your session has expired. Please sign in again."
	case ClassCredits:
		return "You are out of credits. Upgrade your plan or purchase more to keep generating replies."
	case ClassValidation:
		return "This review could not be processed. Check the review content and try again."
	case ClassServer:
		return "The generation service had a problem. Please try again in a moment."
	case ClassNetwork:
		return "Could not reach the generation service. Check your connection and try again."
	default:
		return "Reply generation failed. Please try again."
	}
}

package classifier

import (
	"context"

	"github.com/example/image-moderation/internal/apperror"
)

// Concept is a single label and confidence score reported by the classifier.
type Concept struct {
	Label string
	Score float64
}

// Client exposes the subset of classifier functionality used by the moderation flow.
// An empty, nil-error result means the classifier made no determination.
type Client interface {
	Classify(ctx context.Context, image []byte) ([]Concept, error)
	Ready() bool
}

// Unavailable stands in for a classifier that failed to initialize.
type Unavailable struct {
	Reason error
}

// Classify always fails with a service unavailable error.
func (u Unavailable) Classify(context.Context, []byte) ([]Concept, error) {
	return nil, apperror.New(apperror.ServiceUnavailable, "classifier.classify", u.Reason)
}

// Ready always reports false.
func (Unavailable) Ready() bool { return false }

package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/image-moderation/internal/apperror"
	"github.com/example/image-moderation/internal/classifier"
	"github.com/example/image-moderation/internal/logging"
	"github.com/example/image-moderation/internal/moderation"
)

// Recorder receives per-request instrumentation.
type Recorder interface {
	ObserveClassifier(outcome string, elapsed time.Duration)
	ObserveVerdict(result string, maxScore float64)
}

// Request is one validated image awaiting a verdict.
type Request struct {
	ID    string
	Image []byte
	// Threshold optionally overrides the global threshold for this request.
	Threshold *float64
}

// ModerationUseCase classifies an image once and applies the moderation policy.
type ModerationUseCase struct {
	classifier classifier.Client
	policy     moderation.Policy
	recorder   Recorder
	timeout    time.Duration
	logger     *zap.Logger
}

// NewModerationUseCase constructs a new use case instance. recorder may be nil.
func NewModerationUseCase(client classifier.Client, policy moderation.Policy, recorder Recorder, timeout time.Duration, logger *zap.Logger) *ModerationUseCase {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ModerationUseCase{
		classifier: client,
		policy:     policy,
		recorder:   recorder,
		timeout:    timeout,
		logger:     logger.Named("moderation_usecase"),
	}
}

// Ready reports whether the classifier can serve requests.
func (uc *ModerationUseCase) Ready() bool {
	return uc.classifier != nil && uc.classifier.Ready()
}

// Moderate makes a single classifier attempt bounded by the configured
// timeout and returns the policy's verdict.
func (uc *ModerationUseCase) Moderate(ctx context.Context, req Request) (moderation.Verdict, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.moderate", req.ID)

	if !uc.Ready() {
		return moderation.Verdict{}, apperror.New(apperror.ServiceUnavailable, "usecase.moderate", nil).WithRequestID(req.ID)
	}

	classifyCtx := ctx
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	start := time.Now()
	concepts, err := uc.classifier.Classify(classifyCtx, req.Image)
	elapsed := time.Since(start)
	if err != nil {
		kind := apperror.KindOf(err)
		uc.recorder.ObserveClassifier(string(kind), elapsed)
		opLogger.Error("classifier call failed", zap.String("kind", string(kind)), zap.Duration("elapsed", elapsed))
		opLogger.Debug("classifier failure detail", zap.Error(err))
		return moderation.Verdict{}, apperror.New(kind, "usecase.moderate", err).WithRequestID(req.ID)
	}
	uc.recorder.ObserveClassifier("ok", elapsed)

	verdict := uc.policy.Decide(concepts, req.Threshold)

	result := "safe"
	switch {
	case verdict.IsUnsafe:
		result = "unsafe"
	case verdict.Note != "":
		result = "undetermined"
		opLogger.Warn("classifier returned no concepts")
	}
	uc.recorder.ObserveVerdict(result, verdict.MaxScore)

	opLogger.Info("moderation decided",
		zap.String("result", result),
		zap.Float64("max_score", verdict.MaxScore),
		zap.Float64("threshold", verdict.ThresholdUsed),
		zap.Int("concepts", len(concepts)),
		zap.Int("flagged", len(verdict.Flagged)),
		zap.Duration("classifier_elapsed", elapsed),
	)
	return verdict, nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassifier(string, time.Duration) {}
func (nopRecorder) ObserveVerdict(string, float64)          {}

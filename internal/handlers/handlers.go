package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/image-moderation/internal/apperror"
	"github.com/example/image-moderation/internal/classifier"
	"github.com/example/image-moderation/internal/config"
	"github.com/example/image-moderation/internal/logging"
	"github.com/example/image-moderation/internal/moderation"
	"github.com/example/image-moderation/internal/upload"
	"github.com/example/image-moderation/internal/usecase"
)

const (
	// MaxUploadSize is the largest accepted image.
	MaxUploadSize = upload.MaxFileSize

	// maxRequestBody leaves room for multipart framing around the image.
	maxRequestBody = MaxUploadSize + 1<<20

	BlockingPath = "/api/v1/image/moderation"
	ScoringPath  = "/api/v1/image/moderation/score"

	blockedMessage = "Image failed moderation check: unsafe content detected."
)

// Moderator is the use case behind the moderation endpoints.
type Moderator interface {
	Ready() bool
	Moderate(ctx context.Context, req usecase.Request) (moderation.Verdict, error)
}

// Options configures route registration.
type Options struct {
	// Mode is fixed per deployment; see config.Mode.
	Mode config.Mode
	// Middleware runs before the moderation handlers only (auth, rate limiting).
	Middleware []gin.HandlerFunc
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Label is a flagged concept as serialized to callers.
type Label struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type blockingResponse struct {
	IsUnsafe     bool    `json:"is_unsafe"`
	UnsafeScore  float64 `json:"unsafe_score"`
	UnsafeLabels []Label `json:"unsafe_labels"`
	Message      string  `json:"message,omitempty"`
}

type blockedResponse struct {
	Message      string  `json:"message"`
	UnsafeScore  float64 `json:"unsafe_score"`
	UnsafeLabels []Label `json:"unsafe_labels"`
}

type scoringResponse struct {
	IsOffensive     bool    `json:"is_offensive"`
	OffensiveScore  float64 `json:"offensive_score"`
	SafeScore       float64 `json:"safe_score"`
	OffensiveLabels []Label `json:"offensive_labels"`
	ThresholdUsed   float64 `json:"threshold_used"`
	Message         string  `json:"message,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type responder func(c *gin.Context, v moderation.Verdict)

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc Moderator, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		status := "ready"
		if !uc.Ready() {
			status = "unavailable"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "classifier": status})
	})

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := router.Group("", opts.Middleware...)
	switch opts.Mode {
	case config.ModeScoring:
		api.POST(ScoringPath, moderate(uc, respondScoring, logger))
	case config.ModeBoth:
		api.POST(BlockingPath, moderate(uc, respondBlocking, logger))
		api.POST(ScoringPath, moderate(uc, respondScoring, logger))
	default:
		api.POST(BlockingPath, moderate(uc, respondBlocking, logger))
	}
}

func moderate(uc Moderator, respond responder, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := RequestID(c)
		opLogger := logging.WithOperation(logger, "handlers.moderate", requestID)

		if !uc.Ready() {
			rejectRequest(c, opLogger, apperror.New(apperror.ServiceUnavailable, "handlers.moderate", nil))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		file, err := c.FormFile("image")
		if err != nil {
			kind := apperror.ReadFailed
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				kind = apperror.TooLarge
			}
			rejectRequest(c, opLogger, apperror.New(kind, "handlers.form_file", err))
			return
		}

		data, err := upload.Validate(file.Header.Get("Content-Type"), func() (io.ReadCloser, error) {
			return file.Open()
		})
		if err != nil {
			rejectRequest(c, opLogger, err)
			return
		}

		verdict, err := uc.Moderate(c.Request.Context(), usecase.Request{
			ID:        requestID,
			Image:     data,
			Threshold: parseThreshold(c.Query("threshold"), opLogger),
		})
		// The use case has already logged the failure.
		if err != nil {
			writeError(c, err)
			return
		}

		respond(c, verdict)
	}
}

func respondBlocking(c *gin.Context, v moderation.Verdict) {
	if v.IsUnsafe {
		c.JSON(http.StatusForbidden, blockedResponse{
			Message:      blockedMessage,
			UnsafeScore:  v.MaxScore,
			UnsafeLabels: toLabels(v.Flagged),
		})
		return
	}
	c.JSON(http.StatusOK, blockingResponse{
		IsUnsafe:     false,
		UnsafeScore:  v.MaxScore,
		UnsafeLabels: toLabels(v.Flagged),
		Message:      v.Note,
	})
}

func respondScoring(c *gin.Context, v moderation.Verdict) {
	c.JSON(http.StatusOK, scoringResponse{
		IsOffensive:     v.IsUnsafe,
		OffensiveScore:  v.MaxScore,
		SafeScore:       v.SafeScore,
		OffensiveLabels: toLabels(v.Flagged),
		ThresholdUsed:   v.ThresholdUsed,
		Message:         v.Note,
	})
}

// rejectRequest logs a failure detected before the use case ran, then answers it.
func rejectRequest(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperror.KindOf(err)
	logger.Info("moderation request rejected", zap.String("kind", string(kind)), zap.Error(err))
	writeError(c, err)
}

// writeError answers with the kind's stable code and generic message. Detail
// stays in the logs.
func writeError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	c.AbortWithStatusJSON(kind.Status(), errorResponse{Error: string(kind), Message: kind.Message()})
}

// parseThreshold returns nil for absent or unparsable values; the engine
// ignores out-of-range overrides.
func parseThreshold(raw string, logger *zap.Logger) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Info("ignoring unparsable threshold override", zap.String("threshold", raw))
		return nil
	}
	return &value
}

func toLabels(concepts []classifier.Concept) []Label {
	out := make([]Label, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, Label{Name: c.Label, Score: c.Score})
	}
	return out
}

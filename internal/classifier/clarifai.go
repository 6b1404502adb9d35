package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/example/image-moderation/internal/apperror"
)

const (
	DefaultBaseURL = "https://api.clarifai.com"
	DefaultUserID  = "clarifai"
	DefaultAppID   = "main"
	DefaultModelID = "moderation-recognition"

	clarifaiStatusSuccess = 10000
	maxResponseSize       = 8 << 20
)

// ErrMissingCredential is returned when no personal access token is configured.
var ErrMissingCredential = errors.New("clarifai credential is not configured")

// ErrInputRejected marks a 4xx answer caused by the submitted image rather
// than by the provider being unhealthy.
var ErrInputRejected = errors.New("clarifai rejected the input")

// ClarifaiConfig locates the moderation model and authenticates against it.
type ClarifaiConfig struct {
	BaseURL    string
	PAT        string
	UserID     string
	AppID      string
	ModelID    string
	HTTPClient *http.Client
}

// ClarifaiClient calls the Clarifai model outputs REST endpoint.
type ClarifaiClient struct {
	endpoint   string
	pat        string
	httpClient *http.Client
	parsers    fastjson.ParserPool
	logger     *zap.Logger
}

// NewClarifai returns a ready-to-use client, or ErrMissingCredential when no token is set.
func NewClarifai(cfg ClarifaiConfig, logger *zap.Logger) (*ClarifaiClient, error) {
	pat := strings.TrimSpace(cfg.PAT)
	if pat == "" {
		return nil, apperror.New(apperror.ServiceUnavailable, "classifier.new_clarifai", ErrMissingCredential)
	}

	baseURL := strings.TrimRight(orDefault(cfg.BaseURL, DefaultBaseURL), "/")
	endpoint := fmt.Sprintf("%s/v2/users/%s/apps/%s/models/%s/outputs",
		baseURL,
		orDefault(cfg.UserID, DefaultUserID),
		orDefault(cfg.AppID, DefaultAppID),
		orDefault(cfg.ModelID, DefaultModelID),
	)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &ClarifaiClient{
		endpoint:   endpoint,
		pat:        pat,
		httpClient: httpClient,
		logger:     logger.Named("clarifai"),
	}, nil
}

// Ready reports true; a constructed client always holds a credential.
func (c *ClarifaiClient) Ready() bool { return true }

type outputsRequest struct {
	Inputs []requestInput `json:"inputs"`
}

type requestInput struct {
	Data requestData `json:"data"`
}

type requestData struct {
	Image requestImage `json:"image"`
}

type requestImage struct {
	Base64 string `json:"base64"`
}

// Classify sends the image to the model and returns its concepts.
func (c *ClarifaiClient) Classify(ctx context.Context, image []byte) ([]Concept, error) {
	const op = "classifier.classify"

	payload, err := json.Marshal(outputsRequest{Inputs: []requestInput{{
		Data: requestData{Image: requestImage{Base64: base64.StdEncoding.EncodeToString(image)}},
	}}})
	if err != nil {
		return nil, apperror.New(apperror.InternalError, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperror.New(apperror.InternalError, op, err)
	}
	req.Header.Set("Authorization", "Key "+c.pat)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.New(transportKind(ctx, err), op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apperror.New(transportKind(ctx, err), op, err)
	}

	parser := c.parsers.Get()
	defer c.parsers.Put(parser)

	root, parseErr := parser.ParseBytes(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := 0
		if parseErr == nil {
			code = root.GetInt("status", "code")
			c.logProviderDetail(root, resp.StatusCode)
		}
		err := fmt.Errorf("clarifai http status %d (code %d)", resp.StatusCode, code)
		if rejectedInput(resp.StatusCode) {
			err = fmt.Errorf("%w: %v", ErrInputRejected, err)
		}
		return nil, apperror.New(apperror.UpstreamError, op, err)
	}

	if parseErr != nil {
		return nil, apperror.New(apperror.InternalError, op, fmt.Errorf("decode response: %w", parseErr))
	}
	if root.Type() != fastjson.TypeObject {
		return nil, apperror.New(apperror.InternalError, op, fmt.Errorf("unexpected response type %s", root.Type()))
	}

	if status := root.Get("status", "code"); status != nil {
		if code := status.GetInt(); code != clarifaiStatusSuccess {
			c.logProviderDetail(root, resp.StatusCode)
			return nil, apperror.New(apperror.UpstreamError, op, fmt.Errorf("clarifai status code %d", code))
		}
	}

	return extractConcepts(root), nil
}

// logProviderDetail echoes raw provider text at debug level only.
func (c *ClarifaiClient) logProviderDetail(root *fastjson.Value, httpStatus int) {
	if ce := c.logger.Check(zap.DebugLevel, "clarifai returned an error status"); ce != nil {
		ce.Write(
			zap.Int("http_status", httpStatus),
			zap.Int("code", root.GetInt("status", "code")),
			zap.ByteString("description", root.GetStringBytes("status", "description")),
			zap.ByteString("details", root.GetStringBytes("status", "details")),
		)
	}
}

// extractConcepts reads the first output's concepts. Missing outputs or
// concepts yield an empty, non-nil slice.
func extractConcepts(root *fastjson.Value) []Concept {
	concepts := []Concept{}
	outputs := root.GetArray("outputs")
	if len(outputs) == 0 {
		return concepts
	}
	for _, raw := range outputs[0].GetArray("data", "concepts") {
		if raw == nil || raw.Type() != fastjson.TypeObject {
			continue
		}
		concepts = append(concepts, Concept{
			Label: conceptLabel(raw),
			Score: conceptScore(raw),
		})
	}
	return concepts
}

// conceptLabel reads "name", falling back to "label".
func conceptLabel(v *fastjson.Value) string {
	for _, key := range []string{"name", "label"} {
		if field := v.Get(key); field != nil && field.Type() == fastjson.TypeString {
			if s := string(field.GetStringBytes()); s != "" {
				return s
			}
		}
	}
	return ""
}

// conceptScore reads "value", falling back to "score". Non-numeric or absent
// scores are 0.
func conceptScore(v *fastjson.Value) float64 {
	for _, key := range []string{"value", "score"} {
		field := v.Get(key)
		if field == nil {
			continue
		}
		switch field.Type() {
		case fastjson.TypeNumber:
			return field.GetFloat64()
		case fastjson.TypeString:
			if f, err := strconv.ParseFloat(strings.TrimSpace(string(field.GetStringBytes())), 64); err == nil {
				return f
			}
			return 0
		default:
			return 0
		}
	}
	return 0
}

// transportKind classifies a failed round trip. Deadlines are the upstream's
// fault; cancellations and other failures are internal.
func transportKind(ctx context.Context, err error) apperror.Kind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperror.InternalError
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.UpstreamError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.UpstreamError
	}
	return apperror.InternalError
}

// rejectedInput reports 4xx answers about the request payload. Credential,
// timeout and throttling statuses affect every caller and are excluded.
func rejectedInput(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

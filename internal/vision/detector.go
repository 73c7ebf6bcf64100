package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/replicate/replicate-go"

	"github.com/dshills/roomscan-mcp/internal/poller"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// Replicate defaults for the object-detection model.
const (
	DefaultReplicateURL  = "https://api.replicate.com/v1"
	DefaultModelVersion  = "39e893666996acf464cff75688ad49ac95ef54e9f1c688fbc677330acc478e11"
	DefaultTemperature   = 0.3
	DefaultMaxNewTokens  = 512
	defaultClientTimeout = 30 * time.Second
)

// ErrNoAPIToken is returned by NewDetector when no token is configured.
var ErrNoAPIToken = errors.New("replicate api token not set")

// DetectionPrompt asks the model for a bare comma-separated object list.
const DetectionPrompt = "List all visible objects in this image. Return ONLY a comma-separated list of object names, nothing else. " +
	"Be specific and thorough - include furniture, electronics, decorations, containers, and any other items you can identify."

// DetectorConfig configures the prediction API.
type DetectorConfig struct {
	APIToken     string
	BaseURL      string
	Version      string
	Prompt       string
	Temperature  float64
	MaxNewTokens int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Detector implements ObjectDetector with the Replicate predictions API.
type Detector struct {
	cfg    DetectorConfig
	client *replicate.Client
	logger *slog.Logger
}

// NewDetector creates a Detector, filling zero config values with defaults.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.APIToken == "" {
		return nil, ErrNoAPIToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultReplicateURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultModelVersion
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DetectionPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = DefaultMaxNewTokens
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}

	client, err := replicate.NewClient(
		replicate.WithToken(cfg.APIToken),
		replicate.WithBaseURL(cfg.BaseURL),
		replicate.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("create replicate client: %w", err)
	}

	return &Detector{cfg: cfg, client: client, logger: loggerOrDefault(cfg.Logger)}, nil
}

// StartDetection creates a prediction for imageURL and returns its handle.
func (d *Detector) StartDetection(ctx context.Context, imageURL string) (*Job, error) {
	input := replicate.PredictionInput{
		"media":          imageURL,
		"prompt":         d.cfg.Prompt,
		"temperature":    d.cfg.Temperature,
		"max_new_tokens": d.cfg.MaxNewTokens,
	}

	pred, err := d.client.CreatePrediction(ctx, d.cfg.Version, input, nil, false)
	if err != nil {
		return nil, fmt.Errorf("start detection: %w", classify(err))
	}

	d.logger.Debug("detection job started", "job_id", pred.ID, "status", pred.Status)
	return &Job{ID: pred.ID, Status: string(pred.Status)}, nil
}

// FetchStatus implements poller.StatusFetcher.
func (d *Detector) FetchStatus(ctx context.Context, jobID string) (*poller.JobStatus, error) {
	pred, err := d.client.GetPrediction(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}

	output, err := decodeOutput(pred.Output)
	if err != nil {
		return nil, err
	}

	return &poller.JobStatus{
		Status: string(pred.Status),
		Output: output,
		Error:  decodeError(pred.Error),
	}, nil
}

// classify maps client errors onto the upstream sentinels. Undecodable
// response bodies are parse errors; everything else is an upstream failure.
func classify(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: decode prediction: %v", types.ErrUpstreamParse, err)
	}
	return fmt.Errorf("%w: %v", types.ErrUpstream, err)
}

// decodeOutput accepts a string, an array of string fragments (joined as
// streamed tokens) or null.
func decodeOutput(out interface{}) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []string:
		return strings.Join(v, ""), nil
	case []interface{}:
		var b strings.Builder
		for _, part := range v {
			s, ok := part.(string)
			if !ok {
				return "", fmt.Errorf("%w: unexpected prediction output element %T", types.ErrUpstreamParse, part)
			}
			b.WriteString(s)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: unexpected prediction output %T", types.ErrUpstreamParse, out)
	}
}

func decodeError(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}

// ErrDetectionDisabled is returned by DisabledDetector.
var ErrDetectionDisabled = errors.New("object detection disabled")

// DisabledDetector stands in when no prediction API token is configured.
// Scans are still analyzed, with an empty object list.
type DisabledDetector struct{}

func (DisabledDetector) StartDetection(context.Context, string) (*Job, error) {
	return nil, ErrDetectionDisabled
}

func (DisabledDetector) FetchStatus(context.Context, string) (*poller.JobStatus, error) {
	return nil, ErrDetectionDisabled
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/roomscan-mcp/internal/embedder"
	"github.com/dshills/roomscan-mcp/internal/metrics"
	"github.com/dshills/roomscan-mcp/internal/poller"
	"github.com/dshills/roomscan-mcp/internal/vision"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// ErrInProgress is returned when the same scan is already being ingested.
var ErrInProgress = errors.New("ingestion already in progress for scan")

// ScanStore is the persistence ingestion needs.
type ScanStore interface {
	PriorScanFinder
	SaveAnalysis(ctx context.Context, id string, analysis *types.Analysis) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Scene    vision.SceneDescriber
	Detector vision.ObjectDetector
	Embedder embedder.Embedder
	Store    ScanStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Config tunes ingestion.
type Config struct {
	InheritWindow time.Duration
	Poller        poller.Config
	Now           func() time.Time
}

// Result summarizes a completed ingestion.
type Result struct {
	ScanID         string
	RoomLabel      string
	RoomSource     string
	InheritedFrom  string
	Labels         []string
	DetectionState string
	Duration       time.Duration
}

// Orchestrator turns a scan stub into an analyzed scan: scene description
// and object detection in parallel, then label and scene embeddings, then a
// single atomic write.
type Orchestrator struct {
	scene    vision.SceneDescriber
	detector vision.ObjectDetector
	poller   *poller.Poller
	embedder embedder.Embedder
	store    ScanStore
	resolver *RoomLabelResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger

	inflight scanLocks
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	pollCfg := cfg.Poller
	if pollCfg.Logger == nil {
		pollCfg.Logger = logger
	}

	return &Orchestrator{
		scene:    deps.Scene,
		detector: deps.Detector,
		poller:   poller.New(deps.Detector, pollCfg),
		embedder: deps.Embedder,
		store:    deps.Store,
		resolver: NewRoomLabelResolver(deps.Store, cfg.InheritWindow, now),
		metrics:  deps.Metrics,
		logger:   logger,
	}
}

// Ingest analyzes one scan. Nothing is written unless every fatal step
// succeeds; a failed or timed-out detection job only empties the object list.
func (o *Orchestrator) Ingest(ctx context.Context, rec Record) (*Result, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if !o.inflight.TryAcquire(rec.ID) {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, rec.ID)
	}
	defer o.inflight.Release(rec.ID)

	start := time.Now()
	log := o.logger.With("scan_id", rec.ID)

	result, err := o.ingest(ctx, rec, log)
	duration := time.Since(start)
	if err != nil {
		o.metrics.ObserveIngest(metrics.OutcomeError, duration)
		log.Error("ingestion failed", "image_url", rec.ImageURL, "error", err, "duration", duration)
		return nil, err
	}

	result.Duration = duration
	o.metrics.ObserveIngest(metrics.OutcomeSuccess, duration)
	log.Info("scan analyzed",
		"room_label", result.RoomLabel,
		"room_source", result.RoomSource,
		"objects", len(result.Labels),
		"detection", result.DetectionState,
		"duration", duration)
	return result, nil
}

func (o *Orchestrator) ingest(ctx context.Context, rec Record, log *slog.Logger) (*Result, error) {
	var (
		scene     *vision.Scene
		detection detectionOutcome
	)

	// Exactly two branches. Only the scene branch can fail the group.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := o.scene.DescribeScene(gctx, rec.ImageURL)
		if err != nil {
			return fmt.Errorf("describe scene: %w", err)
		}
		scene = s
		return nil
	})
	g.Go(func() error {
		detection = o.detect(gctx, rec, log)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	objects, err := o.embedLabels(ctx, detection.labels)
	if err != nil {
		return nil, err
	}

	room, err := o.resolver.Resolve(ctx, rec.ID, scene.Room)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveRoomResolution(room.Source)
	if room.Source == RoomInherited {
		log.Info("room label inherited", "proposed", scene.Room, "room_label", room.Label, "from_scan", room.InheritedFrom)
	}

	synthesis := SynthesisText(room.Label, scene.Description, detection.labels)
	sceneEmb, err := o.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: synthesis})
	if err != nil {
		return nil, fmt.Errorf("%w: embed scene: %w", types.ErrUpstream, err)
	}

	analysis := &types.Analysis{
		Description:     scene.Description,
		RoomLabel:       room.Label,
		DetectedObjects: objects,
		Embedding:       sceneEmb.Vector,
	}
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrUpstreamParse, err)
	}
	if err := o.store.SaveAnalysis(ctx, rec.ID, analysis); err != nil {
		return nil, fmt.Errorf("%w: save analysis: %w", types.ErrStorage, err)
	}

	return &Result{
		ScanID:         rec.ID,
		RoomLabel:      room.Label,
		RoomSource:     room.Source,
		InheritedFrom:  room.InheritedFrom,
		Labels:         detection.labels,
		DetectionState: detection.state,
	}, nil
}

// detectionOutcome is what the detection branch hands back. It never fails.
type detectionOutcome struct {
	state  string
	labels []string
}

// detect starts the detection job and polls it to a terminal state.
func (o *Orchestrator) detect(ctx context.Context, rec Record, log *slog.Logger) detectionOutcome {
	job, err := o.detector.StartDetection(ctx, rec.ImageURL)
	if err != nil {
		log.Warn("object detection did not start; continuing without objects", "error", err)
		o.metrics.ObserveDetection(poller.StateFailed.String())
		return detectionOutcome{state: poller.StateFailed.String()}
	}

	res := o.poller.Poll(ctx, job.ID)
	o.metrics.ObserveDetection(res.State.String())
	if res.State != poller.StateSucceeded {
		return detectionOutcome{state: res.State.String()}
	}

	return detectionOutcome{
		state:  res.State.String(),
		labels: vision.ParseLabels(res.Output),
	}
}

// embedLabels embeds all labels in one batched call and zips the vectors
// back by position.
func (o *Orchestrator) embedLabels(ctx context.Context, labels []string) ([]types.DetectedObject, error) {
	if len(labels) == 0 {
		return []types.DetectedObject{}, nil
	}

	resp, err := o.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: labels})
	if err != nil {
		return nil, fmt.Errorf("%w: embed labels: %w", types.ErrUpstream, err)
	}
	if len(resp.Embeddings) < len(labels) {
		return nil, fmt.Errorf("%w: %d label embeddings for %d labels", types.ErrUpstreamParse, len(resp.Embeddings), len(labels))
	}

	objects := make([]types.DetectedObject, len(labels))
	for i, label := range labels {
		objects[i] = types.DetectedObject{Label: label, Embedding: resp.Embeddings[i].Vector}
	}
	return objects, nil
}

// SynthesisText is the text embedded as a scan's scene vector. The objects
// line is omitted when no objects were detected.
func SynthesisText(room, description string, labels []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room Context: %s.\nScene Description: %s", room, description)
	if len(labels) > 0 {
		fmt.Fprintf(&b, "\nDetailed Objects Visible: %s", strings.Join(labels, ", "))
	}
	return b.String()
}

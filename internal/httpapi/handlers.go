package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dshills/roomscan-mcp/internal/ingest"
	"github.com/dshills/roomscan-mcp/internal/searcher"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// analyzeResponse is returned by the ingestion webhook.
type analyzeResponse struct {
	Message    string   `json:"message"`
	ScanID     string   `json:"scan_id"`
	RoomLabel  string   `json:"room_label"`
	RoomSource string   `json:"room_source"`
	Objects    []string `json:"objects"`
	Detection  string   `json:"detection"`
}

type createScanRequest struct {
	ImageURL string `json:"image_url"`
}

// scanView is a stored scan without its vectors.
type scanView struct {
	ID              string     `json:"id"`
	ImageURL        string     `json:"image_url"`
	Description     string     `json:"description,omitempty"`
	RoomLabel       string     `json:"room_label,omitempty"`
	DetectedObjects []string   `json:"detected_objects"`
	Analyzed        bool       `json:"analyzed"`
	CreatedAt       time.Time  `json:"created_at"`
	AnalyzedAt      *time.Time `json:"analyzed_at,omitempty"`
}

func newScanView(scan *types.Scan) scanView {
	return scanView{
		ID:              scan.ID,
		ImageURL:        scan.ImageURL,
		Description:     scan.Description,
		RoomLabel:       scan.RoomLabel,
		DetectedObjects: scan.Labels(),
		Analyzed:        scan.Analyzed(),
		CreatedAt:       scan.CreatedAt,
		AnalyzedAt:      scan.AnalyzedAt,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Room  string `json:"room,omitempty"`
}

type statusResponse struct {
	Driver           string     `json:"driver"`
	BuildMode        string     `json:"build_mode"`
	SchemaVersion    string     `json:"schema_version"`
	TotalScans       int        `json:"total_scans"`
	AnalyzedScans    int        `json:"analyzed_scans"`
	ScansWithObjects int        `json:"scans_with_objects"`
	LastCreatedAt    *time.Time `json:"last_created_at,omitempty"`
	SizeMB           float64    `json:"size_mb"`
}

// decodeJSON reads the body as JSON regardless of Content-Type; database
// webhooks do not always set it.
func decodeJSON(c echo.Context, v interface{}) error {
	return json.NewDecoder(c.Request().Body).Decode(v)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeScan is the scan-created webhook: {"record": {"id", "image_url"}}.
// It runs ingestion to completion before responding.
func (s *Server) analyzeScan(c echo.Context) error {
	var event ingest.Event
	if err := decodeJSON(c, &event); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(event.Record.ImageURL) == "" {
		return badRequest(c, "No image URL")
	}

	result, err := s.deps.Ingester.Ingest(c.Request().Context(), event.Record)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrInProgress):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrInput):
		return badRequest(c, err.Error())
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	objects := result.Labels
	if objects == nil {
		objects = []string{}
	}
	return c.JSON(http.StatusOK, analyzeResponse{
		Message:    "Hybrid Analysis Complete",
		ScanID:     result.ScanID,
		RoomLabel:  result.RoomLabel,
		RoomSource: result.RoomSource,
		Objects:    objects,
		Detection:  result.DetectionState,
	})
}

// createScan stores a scan stub and emits its creation event.
func (s *Server) createScan(c echo.Context) error {
	var req createScanRequest
	if err := decodeJSON(c, &req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL == "" {
		return badRequest(c, "image_url is required")
	}

	ctx := c.Request().Context()
	scan := &types.Scan{ID: s.deps.NewID(), ImageURL: req.ImageURL}
	if err := s.deps.Store.CreateScan(ctx, scan); err != nil {
		s.logger.Error("create scan failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to create scan"})
	}

	if err := s.deps.Trigger.Trigger(ctx, ingest.RecordFromScan(scan)); err != nil {
		s.logger.Error("ingestion trigger failed", "scan_id", scan.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusAccepted, newScanView(scan))
}

func (s *Server) getScan(c echo.Context) error {
	scan, err := s.deps.Store.GetScan(c.Request().Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "scan not found"})
	}
	if err != nil {
		s.logger.Error("get scan failed", "scan_id", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load scan"})
	}
	return c.JSON(http.StatusOK, newScanView(scan))
}

// search returns {answer, image}. Failures other than bad input surface as a
// generic error; details go to the log.
func (s *Server) search(c echo.Context) error {
	var req searchRequest
	if err := decodeJSON(c, &req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return badRequest(c, "query is required")
	}

	resp, err := s.deps.Searcher.Search(c.Request().Context(), searcher.SearchRequest{Query: req.Query, Room: req.Room})
	if errors.Is(err, types.ErrInput) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "search failed"})
	}
	return c.JSON(http.StatusOK, resp.Result)
}

func (s *Server) status(c echo.Context) error {
	st, err := s.deps.Store.GetStatus(c.Request().Context())
	if err != nil {
		s.logger.Error("get status failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read status"})
	}
	return c.JSON(http.StatusOK, statusResponse{
		Driver:           st.Driver,
		BuildMode:        st.BuildMode,
		SchemaVersion:    st.SchemaVersion,
		TotalScans:       st.TotalScans,
		AnalyzedScans:    st.AnalyzedScans,
		ScansWithObjects: st.ScansWithObjects,
		LastCreatedAt:    st.LastCreatedAt,
		SizeMB:           st.SizeMB,
	})
}

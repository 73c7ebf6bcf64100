package vision

import (
	"context"
	"log/slog"

	"github.com/dshills/roomscan-mcp/internal/poller"
)

// Scene is the scene model's reading of a photo.
type Scene struct {
	Room        string `json:"room"`
	Description string `json:"description"`
}

// Job is a handle to a started object-detection prediction.
type Job struct {
	ID     string
	Status string
}

// SceneDescriber classifies the room and describes a photo.
type SceneDescriber interface {
	DescribeScene(ctx context.Context, imageURL string) (*Scene, error)
}

// ObjectDetector starts an asynchronous object-detection job and reads its
// status. The job's output is a comma-separated list of object names.
type ObjectDetector interface {
	StartDetection(ctx context.Context, imageURL string) (*Job, error)
	poller.StatusFetcher
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

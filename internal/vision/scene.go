package vision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/roomscan-mcp/internal/llm"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// DefaultSceneModel is the vision-capable chat model used for scenes.
const DefaultSceneModel = "gpt-4o"

// sceneUserText accompanies the image in the user message.
const sceneUserText = "Analyze scene."

// ScenePrompt is the system instruction for the scene model.
var ScenePrompt = "You are a visual inventory assistant. Analyze this image. " +
	"Return a JSON object with two fields: 'room' (one of: " + strings.Join(types.SceneRooms, ", ") + ") " +
	"and 'description' (a detailed paragraph describing location and atmosphere). " +
	"Do NOT list every single small object, focus on the scene."

// SceneModel implements SceneDescriber on a JSON-mode chat model.
type SceneModel struct {
	completer llm.Completer
	model     string
	logger    *slog.Logger
}

// NewSceneModel creates a scene describer. An empty model selects DefaultSceneModel.
func NewSceneModel(completer llm.Completer, model string, logger *slog.Logger) *SceneModel {
	if model == "" {
		model = DefaultSceneModel
	}
	return &SceneModel{completer: completer, model: model, logger: loggerOrDefault(logger)}
}

// sceneReply is the wire schema. Pointers tell a missing field from an empty one.
type sceneReply struct {
	Room        *string `json:"room"`
	Description *string `json:"description"`
}

// DescribeScene asks the model for {room, description}. A reply without a
// description string is a types.ErrUpstreamParse. A null room is returned as
// the empty label and left for room resolution.
func (s *SceneModel) DescribeScene(ctx context.Context, imageURL string) (*Scene, error) {
	var reply sceneReply
	err := s.completer.CompleteJSON(ctx, llm.JSONRequest{
		Model:    s.model,
		System:   ScenePrompt,
		User:     sceneUserText,
		ImageURL: imageURL,
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("describe scene: %w", err)
	}

	if reply.Description == nil {
		return nil, fmt.Errorf("%w: scene reply has no description", types.ErrUpstreamParse)
	}

	scene := &Scene{Description: strings.TrimSpace(*reply.Description)}
	if reply.Room != nil {
		scene.Room = strings.TrimSpace(*reply.Room)
	}

	s.logger.Debug("scene described",
		"room", scene.Room,
		"description", llm.Truncate(scene.Description, 100))
	return scene, nil
}

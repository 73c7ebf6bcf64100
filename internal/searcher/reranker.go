package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/roomscan-mcp/internal/llm"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// DefaultJudgeModel picks the final answer.
const DefaultJudgeModel = "gpt-4o"

// DefaultEvidenceLabelLimit caps the object labels shown per candidate.
const DefaultEvidenceLabelLimit = 20

// noObjects stands in for an empty object list in evidence blocks.
const noObjects = "None specific."

// JudgePrompt is the system instruction for the judge model.
var JudgePrompt = `You are a helpful assistant finding lost items.
You have a User Query and candidate images. Each image has a Scene Summary and a Detailed Object List.

Compare the User Query against BOTH the Summary and the Object List.
- If an image has a "SEMANTIC MATCH" indicator, that object is semantically similar to what the user is searching for (e.g., "stanley cup" matches "water bottle").
- The Detailed Object List is accurate for specific items.
- The Scene Summary provides context about location and surroundings.

Return JSON:
{
   "answer": "Helpful text describing where the item is located. Include relevant context from the scene.",
   "match_index": integer (0, 1, 2, ...) or null if no good match
}`

// judgeReply is the judge's wire schema.
type judgeReply struct {
	Answer     *string `json:"answer"`
	MatchIndex *int    `json:"match_index"`
}

// Reranker asks the judge model to pick the best candidate for a query.
type Reranker struct {
	completer  llm.Completer
	model      string
	labelLimit int
	logger     *slog.Logger
}

// NewReranker creates a reranker. Zero values select the defaults.
func NewReranker(completer llm.Completer, model string, labelLimit int, logger *slog.Logger) *Reranker {
	if model == "" {
		model = DefaultJudgeModel
	}
	if labelLimit <= 0 {
		labelLimit = DefaultEvidenceLabelLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{completer: completer, model: model, labelLimit: labelLimit, logger: logger}
}

// Rerank sends the query and one evidence block per candidate to the judge.
// The returned image is the chosen candidate's image URL, or nil when the
// judge picked none or returned an index outside the list.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.Candidate) (*types.SearchResult, error) {
	var reply judgeReply
	err := r.completer.CompleteJSON(ctx, llm.JSONRequest{
		Model:  r.model,
		System: JudgePrompt,
		User:   JudgeInput(query, candidates, r.labelLimit),
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("judge candidates: %w", err)
	}
	if reply.Answer == nil {
		return nil, fmt.Errorf("%w: judge reply has no answer", types.ErrUpstreamParse)
	}

	result := &types.SearchResult{Answer: *reply.Answer}
	if idx := reply.MatchIndex; idx != nil {
		if *idx >= 0 && *idx < len(candidates) {
			url := candidates[*idx].Scan.ImageURL
			result.Image = &url
		} else {
			r.logger.Warn("judge match_index out of range", "match_index", *idx, "candidates", len(candidates))
		}
	}
	return result, nil
}

// JudgeInput renders the user message sent to the judge.
func JudgeInput(query string, candidates []types.Candidate, labelLimit int) string {
	blocks := make([]string, len(candidates))
	for i, c := range candidates {
		blocks[i] = EvidenceBlock(i, c, labelLimit)
	}
	return fmt.Sprintf("User Query: %s\n\nCandidates:\n%s", query, strings.Join(blocks, "\n---\n"))
}

// EvidenceBlock renders one candidate for the judge, indexed by its position
// in the merged list.
func EvidenceBlock(index int, c types.Candidate, labelLimit int) string {
	room := c.Scan.RoomLabel
	if room == "" {
		room = types.RoomUnknown
	}

	objects := noObjects
	if labels := c.Scan.Labels(); len(labels) > 0 {
		if labelLimit > 0 && len(labels) > labelLimit {
			labels = labels[:labelLimit]
		}
		objects = strings.Join(labels, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Candidate Image %d]\n", index)
	fmt.Fprintf(&b, "- Room: %s\n", room)
	fmt.Fprintf(&b, "- Scene Summary: %s\n", c.Scan.Description)
	fmt.Fprintf(&b, "- Detailed Object List: %s", objects)
	if c.Match != nil {
		fmt.Fprintf(&b, "\n- SEMANTIC MATCH: %q (similarity: %.1f%%)", c.Match.Label, c.Match.Similarity*100)
	}
	return b.String()
}

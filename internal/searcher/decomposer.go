package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/roomscan-mcp/internal/llm"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// DefaultExtractModel is the lightweight model used for query extraction.
const DefaultExtractModel = "gpt-4o-mini"

// ExtractPrompt is the closed instruction given to the extractor.
var ExtractPrompt = "Extract the room (if mentioned) and the main item/object being searched for.\n" +
	"Valid rooms: " + strings.Join(types.DefiniteRooms, ", ") + ".\n" +
	`Return JSON: { "room": "Name" or null, "item": "the main object being searched for" }` + "\n" +
	"Examples:\n" +
	`- "where is my suitcase" -> { "room": null, "item": "suitcase" }` + "\n" +
	`- "what color is the water bottle in the kitchen" -> { "room": "Kitchen", "item": "water bottle" }` + "\n" +
	`- "find my keys in the bedroom" -> { "room": "Bedroom", "item": "keys" }`

// Decomposition is a query split into an optional room filter and the item
// phrase used for object-level search. Item is never empty.
type Decomposition struct {
	Room string // empty means no room filter
	Item string
}

// extractReply is the extractor's wire schema.
type extractReply struct {
	Room *string `json:"room"`
	Item *string `json:"item"`
}

type decompEntry struct {
	reply     extractReply
	expiresAt time.Time
}

// QueryDecomposer extracts {room, item} from free text. Extractor replies are
// cached by query so repeated searches skip the model call.
type QueryDecomposer struct {
	completer llm.Completer
	model     string
	ttl       time.Duration
	logger    *slog.Logger

	cache   *lru.Cache[[32]byte, *decompEntry]
	cacheMu sync.RWMutex
	now     func() time.Time
}

// NewQueryDecomposer creates a decomposer. cacheSize <= 0 disables the cache.
func NewQueryDecomposer(completer llm.Completer, model string, cacheSize int, ttl time.Duration, logger *slog.Logger) *QueryDecomposer {
	if model == "" {
		model = DefaultExtractModel
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &QueryDecomposer{
		completer: completer,
		model:     model,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
	if cacheSize > 0 {
		cache, err := lru.New[[32]byte, *decompEntry](cacheSize)
		if err != nil {
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		d.cache = cache
	}
	return d
}

// Decompose splits query into room and item. A non-empty override wins over
// the extracted room and is used verbatim. An extracted room outside the
// definite room list is dropped. A missing item falls back to the whole
// query, lowercased.
func (d *QueryDecomposer) Decompose(ctx context.Context, query, override string) (*Decomposition, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInput)
	}

	reply, err := d.extract(ctx, query)
	if err != nil {
		return nil, err
	}

	dec := &Decomposition{Item: strings.ToLower(query)}
	if reply.Item != nil {
		if item := strings.ToLower(strings.TrimSpace(*reply.Item)); item != "" {
			dec.Item = item
		}
	}

	if override = strings.TrimSpace(override); override != "" {
		dec.Room = override
	} else if reply.Room != nil {
		if room, ok := types.CanonicalRoom(*reply.Room); ok {
			dec.Room = room
		} else if strings.TrimSpace(*reply.Room) != "" {
			d.logger.Debug("extracted room discarded", "room", *reply.Room)
		}
	}

	return dec, nil
}

func (d *QueryDecomposer) extract(ctx context.Context, query string) (extractReply, error) {
	key := sha256.Sum256([]byte(d.model + "|" + query))
	if reply, ok := d.cached(key); ok {
		return reply, nil
	}

	var reply extractReply
	err := d.completer.CompleteJSON(ctx, llm.JSONRequest{
		Model:  d.model,
		System: ExtractPrompt,
		User:   query,
	}, &reply)
	if err != nil {
		return extractReply{}, fmt.Errorf("extract query: %w", err)
	}

	if d.cache != nil {
		d.cacheMu.Lock()
		d.cache.Add(key, &decompEntry{reply: reply, expiresAt: d.now().Add(d.ttl)})
		d.cacheMu.Unlock()
	}
	return reply, nil
}

func (d *QueryDecomposer) cached(key [32]byte) (extractReply, bool) {
	if d.cache == nil {
		return extractReply{}, false
	}

	d.cacheMu.RLock()
	entry, found := d.cache.Get(key)
	d.cacheMu.RUnlock()
	if !found {
		return extractReply{}, false
	}
	if d.now().After(entry.expiresAt) {
		d.cacheMu.Lock()
		d.cache.Remove(key)
		d.cacheMu.Unlock()
		return extractReply{}, false
	}
	return entry.reply, true
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// chatServer answers /v1/chat/completions with content and records the
// decoded request body.
func chatServer(t *testing.T, status int, content string, got *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{APIKey: "test-key", BaseURL: url + "/v1"})
	require.NoError(t, err)
	return c
}

func TestCompleteJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes reply and sends json mode", func(t *testing.T) {
		var req map[string]interface{}
		server := chatServer(t, http.StatusOK, `{"room":"Kitchen","item":"keys"}`, &req)
		defer server.Close()

		var out struct {
			Room string `json:"room"`
			Item string `json:"item"`
		}
		err := newTestClient(t, server.URL).CompleteJSON(ctx, JSONRequest{
			Model:  "gpt-4o-mini",
			System: "extract",
			User:   "where are my keys",
		}, &out)
		require.NoError(t, err)
		assert.Equal(t, "Kitchen", out.Room)
		assert.Equal(t, "keys", out.Item)

		assert.Equal(t, "gpt-4o-mini", req["model"])
		format := req["response_format"].(map[string]interface{})
		assert.Equal(t, "json_object", format["type"])
		messages := req["messages"].([]interface{})
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
		assert.Equal(t, "where are my keys", messages[1].(map[string]interface{})["content"])
	})

	t.Run("image part", func(t *testing.T) {
		var req map[string]interface{}
		server := chatServer(t, http.StatusOK, `{}`, &req)
		defer server.Close()

		var out map[string]interface{}
		err := newTestClient(t, server.URL).CompleteJSON(ctx, JSONRequest{
			Model:    "gpt-4o",
			User:     "Analyze scene.",
			ImageURL: "https://img.example/1.jpg",
		}, &out)
		require.NoError(t, err)

		messages := req["messages"].([]interface{})
		parts := messages[1].(map[string]interface{})["content"].([]interface{})
		require.Len(t, parts, 2)
		assert.Equal(t, "text", parts[0].(map[string]interface{})["type"])
		image := parts[1].(map[string]interface{})
		assert.Equal(t, "image_url", image["type"])
		assert.Equal(t, "https://img.example/1.jpg", image["image_url"].(map[string]interface{})["url"])
	})

	t.Run("malformed reply is a parse error", func(t *testing.T) {
		server := chatServer(t, http.StatusOK, `room: Kitchen`, nil)
		defer server.Close()

		var out map[string]interface{}
		err := newTestClient(t, server.URL).CompleteJSON(ctx, JSONRequest{Model: "gpt-4o"}, &out)
		assert.ErrorIs(t, err, types.ErrUpstreamParse)
	})

	t.Run("transport failure is an upstream error", func(t *testing.T) {
		server := chatServer(t, http.StatusServiceUnavailable, "", nil)
		defer server.Close()

		var out map[string]interface{}
		err := newTestClient(t, server.URL).CompleteJSON(ctx, JSONRequest{Model: "gpt-4o"}, &out)
		assert.ErrorIs(t, err, types.ErrUpstream)
		assert.NotErrorIs(t, err, types.ErrUpstreamParse)
	})
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "héll...", Truncate("héllo wörld", 4))
}

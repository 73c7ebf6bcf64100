package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/roomscan-mcp/internal/llm"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// mockCompleter decodes a canned reply into out, like the real client.
type mockCompleter struct {
	reply   string
	err     error
	lastReq llm.JSONRequest
}

func (m *mockCompleter) CompleteJSON(ctx context.Context, req llm.JSONRequest, out interface{}) error {
	m.lastReq = req
	if m.err != nil {
		return m.err
	}
	if err := json.Unmarshal([]byte(m.reply), out); err != nil {
		return errors.Join(types.ErrUpstreamParse, err)
	}
	return nil
}

func TestDescribeScene(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantRoom  string
		wantDesc  string
		wantError error
	}{
		{"valid", `{"room":"Kitchen","description":" a bright counter "}`, "Kitchen", "a bright counter", nil},
		{"null room", `{"room":null,"description":"a desk"}`, "", "a desk", nil},
		{"missing description", `{"room":"Kitchen"}`, "", "", types.ErrUpstreamParse},
		{"wrong type", `{"room":7,"description":"x"}`, "", "", types.ErrUpstreamParse},
		{"not json", `Kitchen`, "", "", types.ErrUpstreamParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &mockCompleter{reply: tt.reply}
			scene, err := NewSceneModel(completer, "", nil).DescribeScene(context.Background(), "https://img/1.jpg")

			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoom, scene.Room)
			assert.Equal(t, tt.wantDesc, scene.Description)

			assert.Equal(t, DefaultSceneModel, completer.lastReq.Model)
			assert.Equal(t, "https://img/1.jpg", completer.lastReq.ImageURL)
			assert.Contains(t, completer.lastReq.System, "Living Room")
			assert.Contains(t, completer.lastReq.System, "Close-up")
		})
	}

	t.Run("upstream error propagates", func(t *testing.T) {
		completer := &mockCompleter{err: types.ErrUpstream}
		_, err := NewSceneModel(completer, "gpt-4o", nil).DescribeScene(context.Background(), "u")
		assert.ErrorIs(t, err, types.ErrUpstream)
	})
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"simple", "cup, plate, fork", []string{"cup", "plate", "fork"}},
		{"all duplicates", "cup, cup, CUP", []string{"cup"}},
		{"first occurrence order", "Lamp, desk, lamp, Chair, desk", []string{"lamp", "desk", "chair"}},
		{"empties dropped", " , keys,, ,wallet, ", []string{"keys", "wallet"}},
		{"multi word", "Water Bottle,  car keys", []string{"water bottle", "car keys"}},
		{"empty output", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLabels(tt.output)
			assert.Equal(t, tt.want, got)

			seen := map[string]bool{}
			for _, l := range got {
				assert.False(t, seen[l], "duplicate label %q", l)
				seen[l] = true
			}
		})
	}
}

func newTestDetector(t *testing.T, handler http.HandlerFunc) *Detector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	d, err := NewDetector(DetectorConfig{APIToken: "r8-token", BaseURL: server.URL + "/v1/"})
	require.NoError(t, err)
	return d
}

// predictionBody is the create-prediction payload as the API sees it.
type predictionBody struct {
	Version string `json:"version"`
	Input   struct {
		Media        string  `json:"media"`
		Prompt       string  `json:"prompt"`
		Temperature  float64 `json:"temperature"`
		MaxNewTokens int     `json:"max_new_tokens"`
	} `json:"input"`
}

func TestStartDetection(t *testing.T) {
	var got predictionBody
	d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predictions", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "r8-token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","status":"starting","urls":{"get":"` + "http://" + r.Host + `/v1/predictions/p1"}}`))
	})

	job, err := d.StartDetection(context.Background(), "https://img/1.jpg")
	require.NoError(t, err)

	assert.Equal(t, "p1", job.ID)
	assert.Equal(t, "starting", job.Status)

	assert.Equal(t, DefaultModelVersion, got.Version)
	assert.Equal(t, "https://img/1.jpg", got.Input.Media)
	assert.Equal(t, DetectionPrompt, got.Input.Prompt)
	assert.InDelta(t, 0.3, got.Input.Temperature, 1e-9)
	assert.Equal(t, 512, got.Input.MaxNewTokens)
}

func TestStartDetectionError(t *testing.T) {
	d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"invalid version","status":422}`))
	})

	_, err := d.StartDetection(context.Background(), "u")
	assert.ErrorIs(t, err, types.ErrUpstream)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestFetchStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus string
		wantOutput string
		wantError  string
		wantErr    error
	}{
		{"string output", `{"id":"p1","status":"succeeded","output":"cup, keys"}`, "succeeded", "cup, keys", "", nil},
		{"token array output", `{"id":"p1","status":"succeeded","output":["cup",", ","keys"]}`, "succeeded", "cup, keys", "", nil},
		{"processing", `{"id":"p1","status":"processing","output":null}`, "processing", "", "", nil},
		{"failed", `{"id":"p1","status":"failed","error":"out of memory"}`, "failed", "", "out of memory", nil},
		{"object output", `{"id":"p1","status":"succeeded","output":{"text":"cup"}}`, "", "", "", types.ErrUpstreamParse},
		{"mixed array output", `{"id":"p1","status":"succeeded","output":["cup",7]}`, "", "", "", types.ErrUpstreamParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/predictions/p1", r.URL.Path)
				assert.Contains(t, r.Header.Get("Authorization"), "r8-token")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := d.FetchStatus(context.Background(), "p1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantOutput, status.Output)
			assert.Equal(t, tt.wantError, status.Error)
		})
	}
}

func TestFetchStatusUpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"not found", http.StatusNotFound, `{"detail":"prediction not found","status":404}`},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"invalid token","status":401}`},
		{"not json", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := d.FetchStatus(context.Background(), "p1")
			require.Error(t, err)
			assert.Nil(t, status)
			assert.True(t, errors.Is(err, types.ErrUpstream) || errors.Is(err, types.ErrUpstreamParse), "got %v", err)
		})
	}
}

func TestDecodeOutput(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		want    string
		wantErr bool
	}{
		{"nil", nil, "", false},
		{"string", "cup", "cup", false},
		{"string slice", []string{"cu", "p"}, "cup", false},
		{"decoded array", []interface{}{"cup", ", ", "mug"}, "cup, mug", false},
		{"number", 3.0, "", true},
		{"object", map[string]interface{}{"text": "cup"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeOutput(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrUpstreamParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDetectorRequiresToken(t *testing.T) {
	_, err := NewDetector(DetectorConfig{})
	assert.ErrorIs(t, err, ErrNoAPIToken)
}

func TestDisabledDetector(t *testing.T) {
	var d ObjectDetector = DisabledDetector{}

	_, err := d.StartDetection(context.Background(), "https://img/1.jpg")
	assert.ErrorIs(t, err, ErrDetectionDisabled)

	_, err = d.FetchStatus(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrDetectionDisabled)
}

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxomo030/comfyflow/internal/domain"
	"github.com/oxomo030/comfyflow/pkg/comfy"
)

const orchestratorGraph = `{
	"3": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 4}},
	"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": ""}},
	"5": {"class_type": "EmptyLatentImage", "inputs": {"width": 64, "height": 64}},
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
	"7": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
	"10": {"class_type": "LoadImage", "inputs": {"image": ""}}
}`

var generationRules = []domain.MappingRule{
	{Kind: domain.MappingKindPrompt, TargetNodeIDs: []string{"6"}},
	{Kind: domain.MappingKindNegativePrompt, TargetNodeIDs: []string{"7"}},
	{Kind: domain.MappingKindModel, TargetNodeIDs: []string{"4"}},
	{Kind: domain.MappingKindWidth, TargetNodeIDs: []string{"5"}},
	{Kind: domain.MappingKindHeight, TargetNodeIDs: []string{"5"}},
	{Kind: domain.MappingKindSteps, TargetNodeIDs: []string{"3"}},
	{Kind: domain.MappingKindSeed, TargetNodeIDs: []string{"3"}},
}

var editRules = []domain.MappingRule{
	{Kind: domain.MappingKindPrompt, TargetNodeIDs: []string{"6"}},
	{Kind: domain.MappingKindModel, TargetNodeIDs: []string{"4"}},
	{Kind: domain.MappingKindImage, TargetNodeIDs: []string{"10"}},
}

type staticConfigStore struct {
	configs map[domain.GenerationMode]domain.WorkflowConfig
	err     error
}

func (s *staticConfigStore) GetWorkflowConfig(_ context.Context, mode domain.GenerationMode) (domain.WorkflowConfig, error) {
	if s.err != nil {
		return domain.WorkflowConfig{}, s.err
	}

	cfg, ok := s.configs[mode]
	if !ok {
		return domain.WorkflowConfig{}, fmt.Errorf("no configuration for mode %s", mode)
	}

	return cfg, nil
}

type staticImageStore struct {
	images map[string][]byte
}

func (s *staticImageStore) GetImage(_ context.Context, params domain.GetImageParams) (domain.StoredImage, error) {
	data, ok := s.images[params.FileID]
	if !ok {
		return domain.StoredImage{}, fmt.Errorf("image %q not found", params.FileID)
	}

	return domain.StoredImage{
		Name:        params.FileID,
		ContentType: "image/png",
		SizeInBytes: int64(len(data)),
		Reader:      io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// fakeBackend emulates the generation backend: prompt submission,
// image upload, the event channel, and history.
type fakeBackend struct {
	t *testing.T

	mu              sync.Mutex
	submittedPrompt map[string]map[string]any
	uploadCount     int
	uploadFailures  int

	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{t: t}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt   map[string]map[string]any `json:"prompt"`
			ClientID string                    `json:"client_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body.ClientID)

		b.mu.Lock()
		b.submittedPrompt = body.Prompt
		b.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "job-1"})
	})

	mux.HandleFunc("/upload/image", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.uploadCount++
		fail := b.uploadCount <= b.uploadFailures
		b.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "input", r.FormValue("type"))

		_, header, err := r.FormFile("image")
		require.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]string{"name": "uploaded_" + header.Filename})
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.URL.Query().Get("clientId"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":"3","prompt_id":"job-1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null,"prompt_id":"job-1"}}`))

		// Hold the connection until the client releases it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"job-1": map[string]any{
				"outputs": map[string]any{
					"9": map[string]any{
						"images": []map[string]string{
							{"filename": "result.png", "subfolder": "", "type": "output"},
						},
					},
				},
			},
		})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)

	return b
}

func (b *fakeBackend) promptInput(nodeID, field string) any {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.submittedPrompt[nodeID]
	if !ok {
		return nil
	}

	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return nil
	}

	return inputs[field]
}

func newTestOrchestrator(b *fakeBackend, store domain.ConfigStore, images domain.ImageStore) *Orchestrator {
	return NewOrchestrator(OrchestratorDependencies{
		Client: comfy.NewClient(
			comfy.WithBaseURL(b.server.URL),
			comfy.WithWaitTimeout(5*time.Second),
		),
		ConfigStore:   store,
		ImageStore:    images,
		UploadRetries: 2,
		RetryDelay:    10 * time.Millisecond,
	})
}

func TestGenerateEndToEnd(t *testing.T) {
	backend := newFakeBackend(t)
	store := &staticConfigStore{configs: map[domain.GenerationMode]domain.WorkflowConfig{
		domain.GenerationModeDefault: {WorkflowJSON: orchestratorGraph, MappingRules: generationRules},
	}}

	orchestrator := newTestOrchestrator(backend, store, nil)

	artifacts, err := orchestrator.Generate(context.Background(), domain.GenerationRequest{
		Prompt:         "a cat",
		NegativePrompt: "",
		Model:          "m.safetensors",
		Width:          512,
		Height:         512,
		Steps:          20,
		BatchCount:     1,
	})
	require.NoError(t, err)

	require.Len(t, artifacts, 1)
	assert.Contains(t, artifacts[0].URL, "/view?")
	assert.Contains(t, artifacts[0].URL, "filename=result.png")

	// The submitted graph carries the mapped values.
	assert.Equal(t, "a cat", backend.promptInput("6", "text"))
	assert.Equal(t, "", backend.promptInput("7", "text"))
	assert.Equal(t, "m.safetensors", backend.promptInput("4", "ckpt_name"))
	assert.Equal(t, float64(512), backend.promptInput("5", "width"))
	assert.Equal(t, float64(512), backend.promptInput("5", "height"))
	assert.Equal(t, float64(20), backend.promptInput("3", "steps"))

	seed, ok := backend.promptInput("3", "seed").(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, seed, float64(0))
	assert.LessOrEqual(t, seed, float64(int64(1)<<50))
}

func TestEditUploadsBeforeMapping(t *testing.T) {
	backend := newFakeBackend(t)
	store := &staticConfigStore{configs: map[domain.GenerationMode]domain.WorkflowConfig{
		domain.GenerationModeEdit: {WorkflowJSON: orchestratorGraph, MappingRules: editRules},
	}}
	images := &staticImageStore{images: map[string][]byte{
		"ref-1.png": []byte("stored image bytes"),
	}}

	orchestrator := newTestOrchestrator(backend, store, images)

	artifacts, err := orchestrator.Edit(context.Background(), domain.EditRequest{
		Images: []domain.ImageRef{{FileID: "ref-1.png"}},
		Prompt: "make it watercolor",
		Model:  "edit.safetensors",
	})
	require.NoError(t, err)
	require.NotEmpty(t, artifacts)

	// The mapper received the backend-assigned asset name, and the
	// model default switched to the edit graph's field.
	assert.Equal(t, "uploaded_ref-1.png", backend.promptInput("10", "image"))
	assert.Equal(t, "edit.safetensors", backend.promptInput("4", "unet_name"))
}

func TestEditRetriesTransientUploadFailures(t *testing.T) {
	backend := newFakeBackend(t)
	backend.uploadFailures = 2

	store := &staticConfigStore{configs: map[domain.GenerationMode]domain.WorkflowConfig{
		domain.GenerationModeEdit: {WorkflowJSON: orchestratorGraph, MappingRules: editRules},
	}}

	orchestrator := newTestOrchestrator(backend, store, nil)

	_, err := orchestrator.Edit(context.Background(), domain.EditRequest{
		Images: []domain.ImageRef{{Data: []byte("inline bytes")}},
		Prompt: "p",
		Model:  "m",
	})
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 3, backend.uploadCount)
}

func TestGenerateMalformedWorkflowConfig(t *testing.T) {
	backend := newFakeBackend(t)
	store := &staticConfigStore{configs: map[domain.GenerationMode]domain.WorkflowConfig{
		domain.GenerationModeDefault: {WorkflowJSON: `{"broken`},
	}}

	orchestrator := newTestOrchestrator(backend, store, nil)

	_, err := orchestrator.Generate(context.Background(), domain.GenerationRequest{Prompt: "p", Model: "m"})
	require.Error(t, err)

	var configErr *domain.ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestGenerateSubmissionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "node type not installed"})
	}))
	defer server.Close()

	store := &staticConfigStore{configs: map[domain.GenerationMode]domain.WorkflowConfig{
		domain.GenerationModeDefault: {WorkflowJSON: orchestratorGraph, MappingRules: generationRules},
	}}

	orchestrator := NewOrchestrator(OrchestratorDependencies{
		Client:      comfy.NewClient(comfy.WithBaseURL(server.URL)),
		ConfigStore: store,
	})

	_, err := orchestrator.Generate(context.Background(), domain.GenerationRequest{Prompt: "p", Model: "m"})
	require.Error(t, err)

	var submissionErr *domain.SubmissionError
	require.ErrorAs(t, err, &submissionErr)
	assert.Contains(t, submissionErr.Detail, "node type not installed")
}

func TestGenerateMappingErrorCarriesContext(t *testing.T) {
	backend := newFakeBackend(t)
	store := &staticConfigStore{configs: map[domain.GenerationMode]domain.WorkflowConfig{
		domain.GenerationModeDefault: {
			WorkflowJSON: orchestratorGraph,
			MappingRules: []domain.MappingRule{
				{Kind: domain.MappingKindPrompt, TargetNodeIDs: []string{"missing"}},
			},
		},
	}}

	orchestrator := newTestOrchestrator(backend, store, nil)

	_, err := orchestrator.Generate(context.Background(), domain.GenerationRequest{Prompt: "p", Model: "m"})
	require.Error(t, err)

	var mappingErr *domain.MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Equal(t, "missing", mappingErr.NodeID)
}

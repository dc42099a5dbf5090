// Package comfy is a client for a ComfyUI generation backend. It
// covers the submission, upload, history, and artifact-retrieval
// endpoints plus the websocket event channel used to observe
// execution progress.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Client provides methods to interact with the generation backend.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new backend client with the given options.
func NewClient(options ...ClientOption) *Client {
	config := DefaultConfig()

	for _, option := range options {
		option(config)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

type queuePromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type queuePromptResponse struct {
	PromptID string `json:"prompt_id"`
}

// QueuePrompt submits a workflow graph for execution under the given
// client session id and returns the backend-assigned job id.
func (c *Client) QueuePrompt(ctx context.Context, clientID string, prompt any) (string, error) {
	promptJSON, err := json.Marshal(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow graph: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/prompt", queuePromptRequest{
		Prompt:   promptJSON,
		ClientID: clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue prompt: %w", err)
	}

	var queued queuePromptResponse
	if err := c.handleResponse(resp, &queued); err != nil {
		return "", err
	}

	if queued.PromptID == "" {
		return "", fmt.Errorf("backend returned no prompt id")
	}

	return queued.PromptID, nil
}

// ImageDescriptor is one image listed in a node's history outputs.
type ImageDescriptor struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the output section of one node in a history entry.
type NodeOutput struct {
	Images []ImageDescriptor `json:"images"`
}

// HistoryEntry is the recorded result of one executed job.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// History is the backend's history response, keyed by job id.
type History map[string]HistoryEntry

// History fetches the execution history record for a job. The
// returned map is empty when the backend no longer knows the job.
func (c *Client) History(ctx context.Context, promptID string) (History, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	var history History
	if err := c.handleResponse(resp, &history); err != nil {
		return nil, err
	}

	return history, nil
}

type uploadImageResponse struct {
	Name string `json:"name"`
}

// UploadImage pushes one input image to the backend and returns the
// backend-assigned asset name. The image is tagged type=input so the
// backend does not surface it as a generated output later.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read image data: %w", err)
	}

	if err := writer.WriteField("type", "input"); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/upload/image", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	var uploaded uploadImageResponse
	if err := c.handleResponse(resp, &uploaded); err != nil {
		return "", err
	}

	if uploaded.Name == "" {
		return "", fmt.Errorf("backend returned no asset name for upload")
	}

	return uploaded.Name, nil
}

// ViewURL composes the canonical retrieval URL for one artifact. The
// URL is returned to callers for deferred fetch, never dereferenced
// by this client.
func (c *Client) ViewURL(filename, subfolder, category string) string {
	query := url.Values{}
	query.Set("filename", filename)
	query.Set("subfolder", subfolder)
	query.Set("type", category)

	return c.config.BaseURL + "/view?" + query.Encode()
}

// SystemStats reports backend system information. Used as a
// reachability probe before running workflows.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		ComfyUIVersion string `json:"comfyui_version"`
		PythonVersion  string `json:"python_version"`
	} `json:"system"`
}

func (c *Client) SystemStats(ctx context.Context) (SystemStats, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/system_stats", nil)
	if err != nil {
		return SystemStats{}, fmt.Errorf("failed to reach backend: %w", err)
	}

	var stats SystemStats
	if err := c.handleResponse(resp, &stats); err != nil {
		return SystemStats{}, err
	}

	return stats, nil
}

// doRequest performs a JSON HTTP request with retry on server errors.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	requestURL := c.config.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		var requestBody io.Reader
		if bodyBytes != nil {
			requestBody = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, requestBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		for key, value := range c.config.DefaultHeaders {
			req.Header.Set(key, value)
		}

		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &Error{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("server error: %d", resp.StatusCode),
				Body:       string(respBody),
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// handleResponse processes the HTTP response and unmarshals JSON if
// successful.
func (c *Client) handleResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResponse struct {
			Error   json.RawMessage `json:"error"`
			Message string          `json:"message"`
		}

		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &errorResponse) == nil {
			switch {
			case len(errorResponse.Error) > 0:
				message = string(errorResponse.Error)
			case errorResponse.Message != "":
				message = errorResponse.Message
			}
		}

		return &Error{
			StatusCode: resp.StatusCode,
			Message:    message,
			Body:       string(body),
		}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

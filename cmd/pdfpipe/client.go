package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient provides HTTP client functionality to communicate with a pdfpipe daemon
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8080/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/queue")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

func (c *APIClient) postJSON(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *APIClient) getJSON(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}

type entityBody struct {
	Path string `json:"path"`
}

// SubmitEntity submits a document to the pipeline via API
func (c *APIClient) SubmitEntity(path string) error {
	return c.postJSON("/pipeline/submit", entityBody{Path: path}, nil)
}

// RetryEntity re-runs a failed document from the first stage via API
func (c *APIClient) RetryEntity(path string) error {
	return c.postJSON("/pipeline/retry", entityBody{Path: path}, nil)
}

// CancelEntity cancels a pending or active document via API
func (c *APIClient) CancelEntity(path string) error {
	return c.postJSON("/pipeline/cancel", entityBody{Path: path}, nil)
}

// EntityStatus fetches the pipeline status of one document via API
func (c *APIClient) EntityStatus(path string) (map[string]any, error) {
	var out map[string]any
	err := c.getJSON("/pipeline/status?path="+url.QueryEscape(path), &out)
	return out, err
}

// Failed lists documents whose pipeline run failed
func (c *APIClient) Failed() ([]string, error) {
	var out []string
	err := c.getJSON("/pipeline/failed", &out)
	return out, err
}

// History lists all stage attempts
func (c *APIClient) History() ([]map[string]any, error) {
	var out []map[string]any
	err := c.getJSON("/pipeline/history", &out)
	return out, err
}

// EnqueueProcess enqueues a raw process invocation via API
func (c *APIClient) EnqueueProcess(id, command string, args []string, workDir string) (string, error) {
	body := map[string]any{"id": id, "command": command, "args": args, "work_dir": workDir}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON("/processes/enqueue", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CancelProcess cancels a queued or running process via API
func (c *APIClient) CancelProcess(id string) error {
	return c.postJSON("/processes/cancel?id="+url.QueryEscape(id), nil, nil)
}

// StopAll cancels everything queued and kills everything running via API
func (c *APIClient) StopAll() error {
	return c.postJSON("/processes/stop-all", nil, nil)
}

// Processes lists every process record the daemon knows about
func (c *APIClient) Processes() ([]map[string]any, error) {
	var out []map[string]any
	err := c.getJSON("/processes", &out)
	return out, err
}

// Queue returns queue length and running count
func (c *APIClient) Queue() (queued, running int, err error) {
	var out struct {
		QueueLength  int `json:"queue_length"`
		RunningCount int `json:"running_count"`
	}
	if err = c.getJSON("/queue", &out); err != nil {
		return 0, 0, err
	}
	return out.QueueLength, out.RunningCount, nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/types"
	"github.com/naka0519/TownReady/pkg/api/v1/routes"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		opts        *Options
		wantErr     bool
		wantBaseURL string
		wantTimeout time.Duration
	}{
		{name: "nil options", wantBaseURL: routes.DefaultBaseURL, wantTimeout: DefaultTimeout},
		{name: "valid options", opts: &Options{BaseURL: "http://example.com", Timeout: 10 * time.Second}, wantBaseURL: "http://example.com", wantTimeout: 10 * time.Second},
		{name: "zero timeout", opts: &Options{BaseURL: "http://example.com"}, wantBaseURL: "http://example.com", wantTimeout: DefaultTimeout},
		{name: "invalid base URL", opts: &Options{BaseURL: "://invalid-url"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			apiClient, ok := client.(*APIClient)
			require.True(t, ok, "client should be an *APIClient")
			assert.Equal(t, tt.wantBaseURL, apiClient.baseURL)
			assert.Equal(t, tt.wantTimeout, apiClient.timeout)
		})
	}
}

func TestAPIClient_doRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slug":
			_, _ = w.Write([]byte(`{"slug":"success","data":{"job_id":"J1","status":"queued"}}`))
		case "/plain":
			_, _ = w.Write([]byte(`{"job_id":"J2","status":"done"}`))
		case "/slug-error":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"slug":"invalid-input","error":"invalid task: translate"}`))
		case "/raw-error":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream unavailable"))
		case "/invalid-json":
			_, _ = w.Write([]byte(`{invalid json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(&Options{BaseURL: server.URL})
	require.NoError(t, err)
	apiClient := client.(*APIClient)

	get := func(path string, v interface{}) error {
		agent, err := apiClient.createAgent(context.Background(), http.MethodGet, path, nil)
		require.NoError(t, err)
		return apiClient.doRequest(agent, v)
	}

	t.Run("slug data is unwrapped", func(t *testing.T) {
		var resp types.CreateJobResponse
		require.NoError(t, get("/slug", &resp))
		assert.Equal(t, types.CreateJobResponse{JobID: "J1", Status: "queued"}, resp)
	})

	t.Run("plain body", func(t *testing.T) {
		var resp types.CreateJobResponse
		require.NoError(t, get("/plain", &resp))
		assert.Equal(t, "J2", resp.JobID)
	})

	t.Run("slug error message", func(t *testing.T) {
		err := get("/slug-error", nil)
		var fiberErr *fiber.Error
		require.True(t, errors.As(err, &fiberErr))
		assert.Equal(t, http.StatusBadRequest, fiberErr.Code)
		assert.Equal(t, "invalid task: translate", fiberErr.Message)
	})

	t.Run("raw error body", func(t *testing.T) {
		err := get("/raw-error", nil)
		var fiberErr *fiber.Error
		require.True(t, errors.As(err, &fiberErr))
		assert.Equal(t, http.StatusBadGateway, fiberErr.Code)
		assert.Equal(t, "upstream unavailable", fiberErr.Message)
	})

	t.Run("invalid json", func(t *testing.T) {
		var resp types.CreateJobResponse
		err := get("/invalid-json", &resp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error decoding response")
	})

	t.Run("unsupported method", func(t *testing.T) {
		_, err := apiClient.createAgent(context.Background(), http.MethodDelete, "/slug", nil)
		assert.Error(t, err)
	})
}

func TestAPIClient_Jobs(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = nil
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &gotBody)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == routes.HealthCheckURL():
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		case r.Method == http.MethodPost && r.URL.Path == routes.CreateJobURL():
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"slug":"success","data":{"job_id":"J1","status":"queued"}}`))
		case r.Method == http.MethodGet && r.URL.Path == routes.GetJobURL("J1"):
			_, _ = w.Write([]byte(`{"slug":"success","data":{"job_id":"J1","status":"processing","completed_tasks":["plan"],"attempts":{"scenario":1}}}`))
		case r.Method == http.MethodPost && r.URL.Path == routes.PublishTaskURL("J1"):
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"slug":"success","data":{"job_id":"J1","task":"safety"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"slug":"not-found","error":"Job not found"}`))
		}
	}))
	defer server.Close()

	client, err := NewClient(&Options{BaseURL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	health, err := client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	created, err := client.CreateJob(ctx, types.CreateJobRequest{Task: "plan", Payload: json.RawMessage(`{"hazard":{"types":["tsunami"]}}`)})
	require.NoError(t, err)
	assert.Equal(t, "J1", created.JobID)
	assert.Equal(t, "plan", gotBody["task"])
	assert.NotNil(t, gotBody["payload"])

	job, err := client.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, models.TaskList{"plan"}, job.CompletedTasks)
	assert.Equal(t, 1, job.Attempts["scenario"])

	published, err := client.PublishTask(ctx, "J1", types.PublishTaskRequest{Task: "safety"})
	require.NoError(t, err)
	assert.Equal(t, "safety", published.Task)
	assert.Equal(t, "safety", gotBody["task"])

	_, err = client.GetJob(ctx, "J404")
	var fiberErr *fiber.Error
	require.True(t, errors.As(err, &fiberErr))
	assert.Equal(t, http.StatusNotFound, fiberErr.Code)
	assert.Equal(t, "Job not found", fiberErr.Message)
}

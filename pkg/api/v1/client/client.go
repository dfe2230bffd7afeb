// Package client provides the API client for interacting with the TownReady worker API
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/types"
	"github.com/naka0519/TownReady/pkg/api/v1/routes"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Client is the interface for API client
type Client interface {
	// Health Check
	HealthCheck(ctx context.Context) (map[string]string, error)

	// Job Endpoints
	CreateJob(ctx context.Context, req types.CreateJobRequest) (types.CreateJobResponse, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	PublishTask(ctx context.Context, id string, req types.PublishTaskRequest) (types.PublishTaskResponse, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate the base URL
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &APIClient{
		baseURL: opts.BaseURL,
		timeout: timeout,
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// slugEnvelope is a SlugResponse with the data left undecoded
type slugEnvelope struct {
	Slug  types.Slug      `json:"slug"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// doRequest sends the HTTP request and processes the response. Slug
// responses are unwrapped so v receives the data field.
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	var slug slugEnvelope
	isSlug := json.Unmarshal(body, &slug) == nil && slug.Slug != ""

	if statusCode < 200 || statusCode >= 300 {
		msg := string(body)
		if isSlug && slug.Error != "" {
			msg = slug.Error
		}
		return &fiber.Error{
			Code:    statusCode,
			Message: msg,
		}
	}

	if v == nil || len(body) == 0 {
		return nil
	}
	if isSlug {
		body = slug.Data
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// executeRequest creates an agent, sends the request, and processes the response
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	return c.doRequest(agent, response)
}

// HealthCheck checks the health of the API
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	var response map[string]string
	if err := c.executeRequest(ctx, http.MethodGet, routes.HealthCheckURL(), nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// CreateJob creates a job and returns its id
func (c *APIClient) CreateJob(ctx context.Context, req types.CreateJobRequest) (types.CreateJobResponse, error) {
	var response types.CreateJobResponse
	if err := c.executeRequest(ctx, http.MethodPost, routes.CreateJobURL(), req, &response); err != nil {
		return types.CreateJobResponse{}, err
	}
	return response, nil
}

// GetJob retrieves a job by id
func (c *APIClient) GetJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetJobURL(id), nil, &job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// PublishTask publishes a task trigger for an existing job
func (c *APIClient) PublishTask(ctx context.Context, id string, req types.PublishTaskRequest) (types.PublishTaskResponse, error) {
	var response types.PublishTaskResponse
	if err := c.executeRequest(ctx, http.MethodPost, routes.PublishTaskURL(id), req, &response); err != nil {
		return types.PublishTaskResponse{}, err
	}
	return response, nil
}

// Package routes defines the API routes and URL structure
package routes

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naka0519/TownReady/pkg/api/v1/handlers"
)

/*

To keep this file organized, routes should be organized in the following way:

1. Transport and operational routes first, then the versioned API
2. For similar scopes, put the endpoints in alphabetical order
3. Order routes in GET, POST, PUT, DELETE order.
	a. Within this ordering, param urls (ie /:id) should go last, otherwise fiber will interpret the route slug as that param.
	b. After param considerations, order alphabetically.
4. For clarity, naming should match the action (i.e. GetJob, PublishTask)

*/

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
	// ServiceName is reported by the root liveness route
	ServiceName = "townready-worker"
)

// DefaultBaseURL is the default base URL for the API
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Liveness and metrics
	Root           = "Root"
	HealthCheck    = "HealthCheck"
	DatabaseHealth = "DatabaseHealth"
	Metrics        = "Metrics"

	// Transport push delivery
	PubSubPush = "PubSubPush"

	// Job routes
	CreateJob   = "CreateJob"
	GenerateJob = "GenerateJob"
	GetJob      = "GetJob"
	PublishTask = "PublishTask"
)

// routeCache stores extracted routes for use prior to compilation
var (
	routeCache     map[string]string
	routeCacheMu   sync.RWMutex
	routeCacheInit sync.Once
)

// RegisterRoutes configures the push route, the operational routes and the v1 job API
//
// NOTE: route ordering is important because routes will try and match in the order they are registered.
func RegisterRoutes(
	app *fiber.App,
	pushHandler *handlers.PushHandler,
	jobHandler *handlers.JobHandler,
	healthHandler *handlers.HealthHandler,
	gatherer prometheus.Gatherer,
) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": ServiceName})
	}).Name(Root)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	app.Get("/health/db", healthHandler.Database).Name(DatabaseHealth)

	app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	)).Name(Metrics)

	app.Post("/pubsub/push", pushHandler.Push).Name(PubSubPush)

	// API v1 routes
	v1 := app.Group(APIv1Prefix)

	// ---------------------------
	// Job endpoints
	jobs := v1.Group("/jobs")
	jobs.Get("/:id", jobHandler.GetJob).Name(GetJob)
	jobs.Post("/", jobHandler.CreateJob).Name(CreateJob)
	jobs.Post("/:id/publish", jobHandler.PublishTask).Name(PublishTask)

	v1.Post("/generate/:task", jobHandler.Generate).Name(GenerateJob)
}

// initRouteCache initializes the route cache by creating a mock app and extracting routes
func initRouteCache() {
	routeCacheInit.Do(func() {
		cache := make(map[string]string)

		// Create a mock app
		app := fiber.New()

		// Register routes with empty handlers; they are never invoked
		RegisterRoutes(app, &handlers.PushHandler{}, &handlers.JobHandler{}, &handlers.HealthHandler{}, prometheus.NewRegistry())

		// Extract routes from the app
		for _, route := range app.GetRoutes() {
			if route.Name != "" {
				cache[route.Name] = route.Path
			}
		}

		routeCacheMu.Lock()
		routeCache = cache
		routeCacheMu.Unlock()
	})
}

// GetRoute returns the route pattern for the given route name
func GetRoute(name string) string {
	initRouteCache()

	routeCacheMu.RLock()
	defer routeCacheMu.RUnlock()
	return routeCache[name]
}

// BuildURL builds a URL for the given route name and parameters
func BuildURL(routeName string, params map[string]string, queryParams url.Values) string {
	route := GetRoute(routeName)
	if route == "" {
		return ""
	}

	// Replace parameters in the route
	for param, value := range params {
		route = strings.ReplaceAll(route, ":"+param, url.PathEscape(value))
	}

	// Remove trailing slash if it's a base endpoint with no parameters
	if len(route) > 1 && strings.HasSuffix(route, "/") && !strings.Contains(route, ":") {
		route = strings.TrimSuffix(route, "/")
	}

	// Add query parameters if any
	if len(queryParams) > 0 {
		route = fmt.Sprintf("%s?%s", route, queryParams.Encode())
	}

	return route
}

// Health check route helper

// HealthCheckURL returns the URL for the health check endpoint
func HealthCheckURL() string {
	return BuildURL(HealthCheck, nil, nil)
}

// DatabaseHealthURL returns the URL for the job store readiness check
func DatabaseHealthURL() string {
	return BuildURL(DatabaseHealth, nil, nil)
}

// PushURL returns the URL push subscriptions deliver to
func PushURL() string {
	return BuildURL(PubSubPush, nil, nil)
}

// Job route helpers

// CreateJobURL returns the URL for creating a job
func CreateJobURL() string {
	return BuildURL(CreateJob, nil, nil)
}

// GenerateJobURL returns the URL for creating a job that starts at task
func GenerateJobURL(task string) string {
	return BuildURL(GenerateJob, map[string]string{"task": task}, nil)
}

// GetJobURL returns the URL for getting a job by ID
func GetJobURL(id string) string {
	return BuildURL(GetJob, map[string]string{"id": id}, nil)
}

// PublishTaskURL returns the URL for publishing a task trigger for a job
func PublishTaskURL(id string) string {
	return BuildURL(PublishTask, map[string]string{"id": id}, nil)
}

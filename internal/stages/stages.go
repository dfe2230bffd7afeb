// Package stages holds the stage handlers the dispatcher invokes for each
// pipeline task.
package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/naka0519/TownReady/internal/pipeline"
)

// Input is what a stage handler sees: the immutable job payload and the
// outputs of every stage that has completed so far. Prior results may be
// missing since dispatch order is not enforced.
type Input struct {
	JobID   string
	Payload json.RawMessage
	Results map[string]json.RawMessage
}

// Handler produces the output of one stage
type Handler interface {
	Run(ctx context.Context, in Input) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, in Input) (json.RawMessage, error)

// Run implements Handler
func (f HandlerFunc) Run(ctx context.Context, in Input) (json.RawMessage, error) {
	return f(ctx, in)
}

// Set binds one handler to each known task
type Set struct {
	Plan     Handler
	Scenario Handler
	Safety   Handler
	Content  Handler
}

// Defaults returns the template handlers
func Defaults() Set {
	return Set{
		Plan:     HandlerFunc(runPlan),
		Scenario: HandlerFunc(runScenario),
		Safety:   HandlerFunc(runSafety),
		Content:  HandlerFunc(runContent),
	}
}

// For returns the handler for task. The second value is false for tasks
// outside the pipeline.
func (s Set) For(task pipeline.Task) (Handler, bool) {
	switch task {
	case pipeline.Plan:
		return s.Plan, s.Plan != nil
	case pipeline.Scenario:
		return s.Scenario, s.Scenario != nil
	case pipeline.Safety:
		return s.Safety, s.Safety != nil
	case pipeline.Content:
		return s.Content, s.Content != nil
	default:
		return nil, false
	}
}

// Validate reports a missing handler for any known task
func (s Set) Validate() error {
	for _, task := range pipeline.Sequence {
		if _, ok := s.For(task); !ok {
			return fmt.Errorf("no handler for task %s", task)
		}
	}
	return nil
}

// UnknownResult is stored for tasks outside the pipeline
func UnknownResult(task pipeline.Task) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"type":    task.String(),
		"message": "Unknown task; acknowledged",
	})
	return b
}

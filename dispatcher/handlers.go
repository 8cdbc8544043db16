package dispatcher

import (
	"context"
	"fmt"

	"github.com/freundallein/taskgate/chassis/alert"
	"github.com/freundallein/taskgate/chassis/monkey"
	"github.com/freundallein/taskgate/chassis/storage"
)

// Result - handler outcome. Success carries an optional deliverable
// pointer, failure carries the error message. Handlers return
// failures for expected business errors; panics and timeouts are
// reserved for the unexpected, and the dispatcher treats all three
// the same way.
type Result struct {
	Success        bool
	DeliverableURL string
	Error          string
}

// Handler executes one task. The scheduler never inspects the task's
// Metadata; it is the handler's input, passed verbatim.
type Handler interface {
	Execute(ctx context.Context, task *storage.Task) Result
}

// HandlerFunc adapter
type HandlerFunc func(ctx context.Context, task *storage.Task) Result

// Execute ...
func (f HandlerFunc) Execute(ctx context.Context, task *storage.Task) Result {
	return f(ctx, task)
}

// Registry - static name -> handler mapping, populated at startup
// and read-only afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry - ...
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register - ...
func (r *Registry) Register(name string, handler Handler) *Registry {
	r.handlers[name] = handler
	return r
}

// Resolve - ...
func (r *Registry) Resolve(name string) (Handler, bool) {
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names - registered handler names, for startup logging.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Built-in handlers used by the local harness and tests.

// NoopSuccess succeeds immediately, echoing a deliverable from
// metadata when one is set.
func NoopSuccess() Handler {
	return HandlerFunc(func(ctx context.Context, task *storage.Task) Result {
		return Result{Success: true, DeliverableURL: task.Metadata["deliverable_url"]}
	})
}

// NoopFailure fails immediately.
func NoopFailure() Handler {
	return HandlerFunc(func(ctx context.Context, task *storage.Task) Result {
		return Result{Success: false, Error: "noop failure"}
	})
}

// ReviewNotify handles escalation tasks addressed to humans: it
// pushes the original failure context to the alert channel and
// completes, leaving the urgent task row as the durable review
// record. Registering it under the reviewer name also keeps an
// exhausted escalation from spawning escalations of its own.
func ReviewNotify(sink alert.Sink) Handler {
	return HandlerFunc(func(ctx context.Context, task *storage.Task) Result {
		sink.Notify(ctx, alert.Alert{
			Severity: alert.URGENT,
			Title:    task.Title,
			Message:  task.Metadata["final_error"],
			Metadata: task.Metadata,
		})
		return Result{Success: true}
	})
}

// Flaky fails with the given chance, otherwise succeeds.
func Flaky(chance float64) Handler {
	return HandlerFunc(func(ctx context.Context, task *storage.Task) Result {
		if err := monkey.ErrorWithChance(chance); err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		return Result{Success: true, DeliverableURL: fmt.Sprintf("mem://deliverable/%s", task.ID)}
	})
}

// Package tools implements the Tool Registry: the closed, in-process set of
// handlers the LLM client can invoke mid-conversation (customer lookup,
// scheduling, VIN decoding). It is grounded on the teacher's
// internal/mcp/mcphost name-to-entry dispatch table, simplified to a fixed
// handler set with no external server transport.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dealerline/voiceagent/internal/calendar"
	"github.com/dealerline/voiceagent/internal/config"
	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/sessionstore"
	"github.com/dealerline/voiceagent/internal/vindecode"
	"github.com/dealerline/voiceagent/pkg/provider/llm"
)

// Result is the canonical envelope every handler returns. Data is only
// populated on success; Error is a short machine-checkable code, Message a
// human-facing sentence the orchestrator can hand straight to the TTS
// stage.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(data any) *Result                  { return &Result{Success: true, Data: data} }
func fail(errCode, message string) *Result { return &Result{Success: false, Error: errCode, Message: message} }

// Handler is an in-process tool implementation. args is the raw JSON
// arguments object the LLM supplied; it has already passed schema
// validation by the time Handler runs.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

type entry struct {
	def     llm.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// ErrUnknownTool is returned by Execute when name has no registered entry.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Registry is the concurrent-safe name → handler table. The zero value is
// not usable; construct with [New].
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Dependencies are the collaborators every built-in handler needs. [New]
// does not check them and registers the full closed set regardless; each
// handler uses its collaborators only when it runs, and only
// get_available_slots checks for a nil Calendar. Tests pass a
// fakes-backed Dependencies.
type Dependencies struct {
	Customers    *repo.CustomerStore
	Vehicles     *repo.VehicleStore
	Appointments *repo.AppointmentStore
	Session      *sessionstore.Store
	Calendar     *calendar.Client
	VIN          *vindecode.Client
	Business     config.BusinessHours
}

// New builds a [Registry] pre-populated with the spec's closed tool set
// (lookup_customer, get_available_slots, book_appointment,
// get_upcoming_appointments, cancel_appointment, reschedule_appointment,
// decode_vin) plus the two supplemented tools needed to onboard a new
// caller before they can book (create_customer, create_vehicle).
func New(deps Dependencies) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry)}
	h := &handlers{deps: deps}

	for _, b := range builtins(h) {
		if err := r.register(b.def, b.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// register compiles def.Parameters as a JSON schema and adds the entry.
// Unexported: external callers only get the fixed set [New] builds.
func (r *Registry) register(def llm.ToolDefinition, h Handler) error {
	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{def: def, schema: schema, handler: h}
	return nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	c := jsonschema.NewCompiler()
	resourceURL := "voiceagent://tools/" + name + ".json"
	if err := c.AddResource(resourceURL, params); err != nil {
		return nil, err
	}
	return c.Compile(resourceURL)
}

// Definitions returns every registered tool's [llm.ToolDefinition], for
// wiring into [llm.CompletionRequest.Tools].
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	return out
}

// Execute validates argsJSON against the named tool's schema and runs its
// handler. A non-nil error indicates an unknown tool name, malformed
// argument JSON, or an error returned by the handler itself (a failed
// repository read or write); the expected failures (not found, validation
// error, upstream timeout) are reported as a *Result with Success=false so
// the orchestrator can feed a well-formed tool result back to the LLM.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (*Result, error) {
	r.mu.RLock()
	e, ok2 := r.entries[name]
	r.mu.RUnlock()
	if !ok2 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	raw := strings.TrimSpace(argsJSON)
	if raw == "" {
		raw = "{}"
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tools: invalid args JSON for %q: %w", name, err)
	}
	if err := e.schema.Validate(instance); err != nil {
		return fail("invalid_arguments", err.Error()), nil
	}

	args, _ := instance.(map[string]any)
	result, err := e.handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tools: handler %q: %w", name, err)
	}
	return result, nil
}

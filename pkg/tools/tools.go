package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tmc/langchaingo/tools"

	"github.com/xhad/hrcopilot/internal/types"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the JSON envelope every tool answers with.
type Result struct {
	Status       string      `json:"status"`
	Result       interface{} `json:"result,omitempty"`
	StartDate    string      `json:"start_date,omitempty"`
	EndDate      string      `json:"end_date,omitempty"`
	Message      string      `json:"message,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

func errorResult(err error) Result {
	return Result{Status: StatusError, ErrorMessage: err.Error()}
}

func encode(r Result) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Registry looks tools up by name. It only dispatches; deciding which tool
// to call is left to the caller.
type Registry struct {
	tools map[string]tools.Tool
}

func NewRegistry(ts ...tools.Tool) *Registry {
	r := &Registry{tools: make(map[string]tools.Tool, len(ts))}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Get(name string) (tools.Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", types.ErrInvalidConfiguration, name)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status extracts the status field from a tool's JSON answer.
func Status(output string) string {
	var r Result
	if err := json.Unmarshal([]byte(output), &r); err != nil {
		return StatusError
	}
	return r.Status
}

package main

import (
	"errors"
	"strings"
)

var ErrMissingPlaybook = errors.New("playbook is required")

// ExecutionRequest is the body of POST /execute. A nil Hosts or Tags slice
// encodes as JSON null, meaning "no explicit restriction"; it is never sent
// as an empty list.
type ExecutionRequest struct {
	Playbook    string         `json:"playbook"`
	Hosts       []string       `json:"hosts"`
	Tags        []string       `json:"tags"`
	ExtraVars   map[string]any `json:"extra_vars,omitempty"`
	AskPassword bool           `json:"ask_password"`
}

func BuildExecutionRequest(playbook string, hosts, tags []string, askPassword bool) (ExecutionRequest, error) {
	playbook = strings.TrimSpace(playbook)
	if playbook == "" {
		return ExecutionRequest{}, ErrMissingPlaybook
	}
	return ExecutionRequest{
		Playbook:    playbook,
		Hosts:       nullableList(hosts),
		Tags:        nullableList(tags),
		AskPassword: askPassword,
	}, nil
}

// WithExtraVars returns a copy of the request carrying vars.
func (r ExecutionRequest) WithExtraVars(vars map[string]any) ExecutionRequest {
	if len(vars) == 0 {
		r.ExtraVars = nil
		return r
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	r.ExtraVars = out
	return r
}

func nullableList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	return append([]string(nil), items...)
}

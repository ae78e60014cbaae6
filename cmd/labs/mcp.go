package main

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

const (
	mcpDefaultWaitMs = 10 * 60 * 1000
	mcpDefaultTail   = 200
)

type CatalogInput struct{}

type ExecuteInput struct {
	Playbook string   `json:"playbook"`
	Groups   []string `json:"groups,omitempty"`
	Hosts    []string `json:"hosts,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type StatusInput struct {
	ExecutionID string `json:"execution_id"`
	Tail        int    `json:"tail,omitempty"`
}

type WaitInput struct {
	ExecutionID string `json:"execution_id"`
	TimeoutMs   int    `json:"timeout_ms,omitempty"`
	Tail        int    `json:"tail,omitempty"`
}

type CancelInput struct {
	ExecutionID string `json:"execution_id"`
}

type HistoryInput struct {
	Limit    int    `json:"limit,omitempty"`
	Status   string `json:"status,omitempty"`
	Playbook string `json:"playbook,omitempty"`
}

type mcpTools struct {
	console  *Console
	interval time.Duration
	log      logrus.FieldLogger
}

func newMCPServer(tools *mcpTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "labs-console",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "labs.catalog",
		Description: "List inventory groups, hosts, playbooks and tags known to the executor.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input CatalogInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		return nil, tools.catalog(ctx), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "labs.execute",
		Description: "Start a playbook run against groups and/or hosts. Returns the execution_id.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ExecuteInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		payload, err := tools.execute(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		return nil, payload, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "labs.status",
		Description: "Get status and output tail for an execution.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		if input.ExecutionID == "" {
			return nil, nil, errors.New("missing execution_id")
		}
		payload, err := tools.status(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		return nil, payload, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "labs.wait",
		Description: "Block until an execution finishes or timeout is reached.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input WaitInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		if input.ExecutionID == "" {
			return nil, nil, errors.New("missing execution_id")
		}
		payload, err := tools.wait(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		return nil, payload, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "labs.cancel",
		Description: "Cancel a running execution.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input CancelInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		if input.ExecutionID == "" {
			return nil, nil, errors.New("missing execution_id")
		}
		payload, err := tools.cancel(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		return nil, payload, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "labs.history",
		Description: "List finished executions recorded by this console.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		payload, err := tools.history(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		return nil, payload, nil
	})

	return server
}

func runMCP(ctx context.Context, tools *mcpTools) error {
	server := newMCPServer(tools)
	session, err := server.Connect(ctx, mcp.NewStdioTransport(), nil)
	if err != nil {
		return err
	}
	return session.Wait()
}

func (t *mcpTools) catalog(ctx context.Context) map[string]interface{} {
	cat, err := t.console.LoadCatalog(ctx)
	payload := map[string]interface{}{
		"groups":    cat.Groups,
		"hosts":     cat.Hosts,
		"playbooks": cat.Playbooks,
		"tags":      cat.Tags,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	return payload
}

func (t *mcpTools) execute(ctx context.Context, input ExecuteInput) (map[string]interface{}, error) {
	sel, err := selectionFrom(input.Groups, input.Hosts, input.Tags)
	if err != nil {
		return nil, err
	}
	if !CanSubmit(input.Playbook, sel) {
		return nil, errors.New("playbook and at least one group or host are required")
	}
	req, id, err := t.console.Submit(ctx, sel, input.Playbook)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"execution_id": id,
		"playbook":     req.Playbook,
		"hosts":        req.Hosts,
		"tags":         req.Tags,
		"status":       StatusPending,
	}, nil
}

func (t *mcpTools) status(ctx context.Context, input StatusInput) (map[string]interface{}, error) {
	report, err := t.console.API().FetchStatus(ctx, input.ExecutionID)
	if err != nil {
		return nil, err
	}
	return reportPayload(report, input.Tail), nil
}

// wait follows the execution with its own controller until it is terminal.
// A timeout is not an error: the latest known state is returned.
func (t *mcpTools) wait(ctx context.Context, input WaitInput) (map[string]interface{}, error) {
	timeout := time.Duration(input.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = mcpDefaultWaitMs * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctrl := NewSessionController()
	if _, err := t.console.Attach(ctrl, input.ExecutionID); err != nil {
		return nil, err
	}
	f := NewFollower(t.console.API(), ctrl, FollowOptions{Interval: t.interval, Log: t.log})
	s, err := f.Run(waitCtx)
	timedOut := false
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		timedOut = true
	}
	if s.Status.Terminal() {
		t.console.Record(ctx, s)
	}
	payload := sessionPayload(s, input.Tail)
	payload["timed_out"] = timedOut
	return payload, nil
}

func (t *mcpTools) cancel(ctx context.Context, input CancelInput) (map[string]interface{}, error) {
	if err := t.console.API().Cancel(ctx, input.ExecutionID); err != nil {
		return nil, err
	}
	t.log.WithField("execution_id", input.ExecutionID).Info("cancel requested")
	return map[string]interface{}{"execution_id": input.ExecutionID, "cancelled": true}, nil
}

func (t *mcpTools) history(ctx context.Context, input HistoryInput) (map[string]interface{}, error) {
	records, err := t.console.History().List(ctx, input.Limit, input.Status, input.Playbook)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(records), "executions": records}, nil
}

func selectionFrom(groups, hosts, tags []string) (*Selection, error) {
	sel := NewSelection()
	for _, item := range []struct {
		kind SelectionKind
		ids  []string
	}{
		{KindGroup, groups},
		{KindHost, hosts},
		{KindTag, tags},
	} {
		for _, id := range item.ids {
			if sel.IsSelected(item.kind, id) {
				continue
			}
			if _, err := sel.Toggle(item.kind, id); err != nil {
				return nil, err
			}
		}
	}
	return sel, nil
}

func sessionPayload(s ExecutionSession, tail int) map[string]interface{} {
	if tail <= 0 {
		tail = mcpDefaultTail
	}
	payload := map[string]interface{}{
		"execution_id": s.ID,
		"status":       s.Status,
		"output":       tailLines(s.Log(), tail),
	}
	if s.ReturnCode != nil {
		payload["return_code"] = *s.ReturnCode
	}
	return payload
}

func reportPayload(r StatusReport, tail int) map[string]interface{} {
	s := ExecutionSession{ID: r.ExecutionID, Status: r.Status, Stdout: r.Stdout, Stderr: r.Stderr, ReturnCode: r.ReturnCode}
	payload := sessionPayload(s, tail)
	if r.Playbook != "" {
		payload["playbook"] = r.Playbook
	}
	if r.StartedAt != "" {
		payload["started_at"] = r.StartedAt
	}
	if r.FinishedAt != "" {
		payload["finished_at"] = r.FinishedAt
	}
	return payload
}

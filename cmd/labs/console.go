package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type inventoryAPI interface {
	Health(ctx context.Context) (map[string]any, error)
	Groups(ctx context.Context) ([]Group, error)
	Hosts(ctx context.Context) ([]Host, error)
	Playbooks(ctx context.Context) ([]Playbook, error)
	Tags(ctx context.Context) ([]string, error)
}

type executionAPI interface {
	Submit(ctx context.Context, req ExecutionRequest) (string, error)
	FetchStatus(ctx context.Context, executionID string) (StatusReport, error)
	Cancel(ctx context.Context, executionID string) error
}

// Executor is the full backend surface the console talks to.
type Executor interface {
	inventoryAPI
	executionAPI
}

// Console ties catalog loading, request preparation and history together.
// It holds no session state; each front end owns its SessionController.
type Console struct {
	api         Executor
	history     HistoryStore
	log         logrus.FieldLogger
	askPassword bool
	extraVars   map[string]any
}

func NewConsole(api Executor, history HistoryStore, cfg Config, log logrus.FieldLogger) *Console {
	if history == nil {
		history = nopHistory{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &Console{
		api:         api,
		history:     history,
		log:         log,
		askPassword: cfg.Console.askPassword(),
		extraVars:   cfg.Console.ExtraVars,
	}
}

func (c *Console) API() Executor { return c.api }

func (c *Console) History() HistoryStore { return c.history }

// LoadCatalog checks backend health, then fetches the four catalog lists in
// parallel. A failing list is reported but does not discard the others.
func (c *Console) LoadCatalog(ctx context.Context) (Catalog, error) {
	if _, err := c.api.Health(ctx); err != nil {
		return Catalog{}, fmt.Errorf("executor is not responding: %w", err)
	}

	var cat Catalog
	var groupsErr, hostsErr, playbooksErr, tagsErr error
	var g errgroup.Group
	g.Go(func() error {
		cat.Groups, groupsErr = c.api.Groups(ctx)
		return nil
	})
	g.Go(func() error {
		cat.Hosts, hostsErr = c.api.Hosts(ctx)
		return nil
	})
	g.Go(func() error {
		cat.Playbooks, playbooksErr = c.api.Playbooks(ctx)
		return nil
	})
	g.Go(func() error {
		cat.Tags, tagsErr = c.api.Tags(ctx)
		return nil
	})
	_ = g.Wait()
	cat.FetchedAt = time.Now().UTC()

	var errs []error
	for _, e := range []struct {
		what string
		err  error
	}{
		{"groups", groupsErr},
		{"hosts", hostsErr},
		{"playbooks", playbooksErr},
		{"tags", tagsErr},
	} {
		if e.err != nil {
			c.log.WithError(e.err).WithField("list", e.what).Warn("catalog list failed to load")
			errs = append(errs, fmt.Errorf("load %s: %w", e.what, e.err))
		}
	}
	c.log.WithFields(logrus.Fields{
		"groups":    len(cat.Groups),
		"hosts":     len(cat.Hosts),
		"playbooks": len(cat.Playbooks),
		"tags":      len(cat.Tags),
	}).Info("catalog loaded")
	return cat, errors.Join(errs...)
}

// PrepareRequest resolves the selection against a fresh group listing and
// builds the run request. When the listing cannot be fetched, only the
// explicitly selected hosts are used.
func (c *Console) PrepareRequest(ctx context.Context, sel *Selection, playbook string) (ExecutionRequest, error) {
	var groups []Group
	if len(sel.Selected(KindGroup)) > 0 {
		fetched, err := c.api.Groups(ctx)
		if err != nil {
			c.log.WithError(err).Warn("group lookup failed, using explicit hosts only")
		} else {
			groups = fetched
		}
	}
	hosts, missing := sel.ResolveHosts(groups)
	if len(missing) > 0 {
		c.log.WithField("groups", missing).Warn("selected groups not found in inventory")
	}
	req, err := BuildExecutionRequest(playbook, hosts, sel.SelectedTags(), c.askPassword)
	if err != nil {
		return ExecutionRequest{}, err
	}
	return req.WithExtraVars(c.extraVars), nil
}

// Submit prepares and sends a run request. It performs no session state
// changes; callers feed the result into their SessionController.
func (c *Console) Submit(ctx context.Context, sel *Selection, playbook string) (ExecutionRequest, string, error) {
	req, err := c.PrepareRequest(ctx, sel, playbook)
	if err != nil {
		return ExecutionRequest{}, "", err
	}
	id, err := c.api.Submit(ctx, req)
	if err != nil {
		c.log.WithError(err).WithField("playbook", req.Playbook).Error("submit failed")
		return req, "", err
	}
	c.log.WithFields(logrus.Fields{
		"execution_id": id,
		"playbook":     req.Playbook,
		"hosts":        req.Hosts,
		"tags":         req.Tags,
	}).Info("execution submitted")
	return req, id, nil
}

// Start runs the whole Idle -> Polling transition synchronously.
func (c *Console) Start(ctx context.Context, ctrl *SessionController, sel *Selection, playbook string) ([]Effect, error) {
	if err := ctrl.BeginSubmit(); err != nil {
		return nil, err
	}
	req, id, err := c.Submit(ctx, sel, playbook)
	if err != nil {
		ctrl.SubmitFailed(err)
		return nil, err
	}
	return ctrl.Started(id, req)
}

// Attach starts tracking an execution submitted elsewhere.
func (c *Console) Attach(ctrl *SessionController, executionID string) ([]Effect, error) {
	if err := ctrl.BeginSubmit(); err != nil {
		return nil, err
	}
	return ctrl.Started(executionID, ExecutionRequest{})
}

// Record stores a finished session in the run history.
func (c *Console) Record(ctx context.Context, s ExecutionSession) {
	if !s.Status.Terminal() {
		return
	}
	rec := historyRecordFromSession(s, time.Now().UTC())
	if err := c.history.Append(ctx, rec); err != nil {
		c.log.WithError(err).WithField("execution_id", s.ID).Warn("history append failed")
	}
}

package main

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether polling must stop once this status is seen.
// Unknown values are treated as still running.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StatusReport is the body of GET /executions/{id}.
type StatusReport struct {
	ExecutionID string   `json:"execution_id"`
	Status      Status   `json:"status"`
	Playbook    string   `json:"playbook,omitempty"`
	Hosts       []string `json:"hosts,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ReturnCode  *int     `json:"return_code,omitempty"`
	Stdout      string   `json:"stdout,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
	StartedAt   string   `json:"started_at,omitempty"`
	FinishedAt  string   `json:"finished_at,omitempty"`
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitted
	PhasePolling
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitted:
		return "submitted"
	case PhasePolling:
		return "polling"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type EffectKind int

const (
	// EffectStartTicker asks the adapter to start a fixed-interval ticker
	// tagged with Generation.
	EffectStartTicker EffectKind = iota
	// EffectStopTicker asks the adapter to release the ticker tagged with
	// Generation. It is emitted at most once per ticker.
	EffectStopTicker
	// EffectFinished reports that the session reached a terminal status.
	EffectFinished
)

type Effect struct {
	Kind       EffectKind
	Generation uint64
}

// ExecutionSession is the local view of one submitted run.
type ExecutionSession struct {
	ID         string
	Playbook   string
	Hosts      []string
	Tags       []string
	Status     Status
	Stdout     string
	Stderr     string
	ReturnCode *int
	Polling    bool
	StartedAt  time.Time
	UpdatedAt  time.Time
}

const stderrMarker = "\n[ERROR] "

// Log is the text shown to the operator: the latest full stdout, followed by
// the latest stderr behind a marker.
func (s ExecutionSession) Log() string {
	if s.Stderr == "" {
		return s.Stdout
	}
	return s.Stdout + stderrMarker + s.Stderr
}

// PollTicket ties a status fetch to the session generation that issued it.
type PollTicket struct {
	ExecutionID string
	Generation  uint64
}

var (
	ErrSubmitInProgress = errors.New("a submission is already in progress")
	ErrNotSubmitting    = errors.New("no submission in progress")
	ErrNoExecution      = errors.New("no execution to cancel")
)

// SessionController owns the lifecycle of at most one execution session.
// It performs no I/O: callers feed it events and carry out the returned
// effects. It is not safe for concurrent use; one adapter goroutine owns it.
type SessionController struct {
	phase      Phase
	prevPhase  Phase
	session    *ExecutionSession
	generation uint64
	tickerGen  uint64
	inFlight   bool
	lastErr    error
	now        func() time.Time
}

func NewSessionController() *SessionController {
	return &SessionController{now: time.Now}
}

func (c *SessionController) Phase() Phase { return c.phase }

// Session returns a copy of the current session.
func (c *SessionController) Session() (ExecutionSession, bool) {
	if c.session == nil {
		return ExecutionSession{}, false
	}
	s := *c.session
	return s, true
}

func (c *SessionController) ExecutionID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

func (c *SessionController) Generation() uint64 { return c.generation }

func (c *SessionController) LastError() error { return c.lastErr }

func (c *SessionController) PollInFlight() bool { return c.inFlight }

// TickerLive reports whether the ticker tagged gen is still wanted. Adapters
// that reschedule ticks one at a time stop rescheduling once this is false.
func (c *SessionController) TickerLive(gen uint64) bool {
	return gen != 0 && gen == c.tickerGen
}

func (c *SessionController) Submitting() bool { return c.phase == PhaseSubmitted }

// BeginSubmit moves to Submitted. A session that was polling keeps polling
// until Started replaces it: Tick and ApplyStatus still serve it.
func (c *SessionController) BeginSubmit() error {
	if c.phase == PhaseSubmitted {
		return ErrSubmitInProgress
	}
	c.prevPhase = c.phase
	c.phase = PhaseSubmitted
	c.lastErr = nil
	return nil
}

// SubmitFailed restores the phase held before BeginSubmit; no session is
// created.
func (c *SessionController) SubmitFailed(err error) {
	if c.phase != PhaseSubmitted {
		return
	}
	c.phase = c.prevPhase
	c.lastErr = err
}

// Started installs a fresh session for id and retires any previous ticker.
func (c *SessionController) Started(id string, req ExecutionRequest) ([]Effect, error) {
	if c.phase != PhaseSubmitted {
		return nil, ErrNotSubmitting
	}
	var effects []Effect
	effects = append(effects, c.stopTicker()...)

	c.generation++
	now := c.now()
	c.session = &ExecutionSession{
		ID:        id,
		Playbook:  req.Playbook,
		Hosts:     append([]string(nil), req.Hosts...),
		Tags:      append([]string(nil), req.Tags...),
		Status:    StatusPending,
		Polling:   true,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.inFlight = false
	c.lastErr = nil
	c.phase = PhasePolling
	c.tickerGen = c.generation
	effects = append(effects, Effect{Kind: EffectStartTicker, Generation: c.tickerGen})
	return effects, nil
}

// Tick returns a ticket when a status fetch should be issued: a session is
// stored, it is still polling, and no earlier fetch is outstanding.
func (c *SessionController) Tick() (PollTicket, bool) {
	if c.session == nil || !c.polling() || c.inFlight {
		return PollTicket{}, false
	}
	c.inFlight = true
	return PollTicket{ExecutionID: c.session.ID, Generation: c.generation}, true
}

// polling reports whether the stored session is still being polled, including
// while a replacement submission is outstanding.
func (c *SessionController) polling() bool {
	switch c.phase {
	case PhasePolling:
		return true
	case PhaseSubmitted:
		return c.prevPhase == PhasePolling
	}
	return false
}

func (c *SessionController) current(t PollTicket) bool {
	return c.session != nil && t.Generation == c.generation && t.ExecutionID == c.session.ID
}

// ApplyStatus folds a fetched report into the session. Reports for a retired
// generation (a replaced or cancelled session) are dropped.
func (c *SessionController) ApplyStatus(t PollTicket, report StatusReport) []Effect {
	if !c.current(t) {
		return nil
	}
	c.inFlight = false
	if !c.polling() {
		return nil
	}

	s := c.session
	if report.Stdout != "" {
		s.Stdout = report.Stdout
	}
	s.Stderr = report.Stderr
	s.Status = report.Status
	if s.Playbook == "" {
		s.Playbook = report.Playbook
	}
	if len(s.Hosts) == 0 && len(report.Hosts) > 0 {
		s.Hosts = append([]string(nil), report.Hosts...)
	}
	if len(s.Tags) == 0 && len(report.Tags) > 0 {
		s.Tags = append([]string(nil), report.Tags...)
	}
	if report.ReturnCode != nil {
		rc := *report.ReturnCode
		s.ReturnCode = &rc
	}
	s.UpdatedAt = c.now()

	if !s.Status.Terminal() {
		return nil
	}
	return c.finish()
}

// PollFailed releases the in-flight guard; the next tick retries.
func (c *SessionController) PollFailed(t PollTicket, err error) {
	if !c.current(t) {
		return
	}
	c.inFlight = false
	c.lastErr = err
}

// CancelTarget returns the execution id a cancel request should address.
// Cancelling a finished session is still sent; its acknowledgement is ignored.
func (c *SessionController) CancelTarget() (string, error) {
	if c.session == nil {
		return "", ErrNoExecution
	}
	return c.session.ID, nil
}

// CancelAcknowledged forces the session to cancelled. The generation is
// bumped so a status fetch still in flight cannot overwrite it.
func (c *SessionController) CancelAcknowledged(id string) []Effect {
	if c.session == nil || c.session.ID != id || c.session.Status.Terminal() {
		return nil
	}
	c.generation++
	c.inFlight = false
	c.session.Status = StatusCancelled
	c.session.UpdatedAt = c.now()
	return c.finish()
}

// CancelFailed leaves the session untouched so polling continues.
func (c *SessionController) CancelFailed(err error) {
	c.lastErr = err
}

// Reset drops the session and returns to Idle.
func (c *SessionController) Reset() []Effect {
	effects := c.stopTicker()
	c.generation++
	c.session = nil
	c.inFlight = false
	c.lastErr = nil
	c.phase = PhaseIdle
	return effects
}

// finish marks the session terminal. During a pending submission the phase to
// restore on SubmitFailed becomes Terminal instead.
func (c *SessionController) finish() []Effect {
	if c.phase == PhaseSubmitted {
		c.prevPhase = PhaseTerminal
	} else {
		c.phase = PhaseTerminal
	}
	c.session.Polling = false
	effects := c.stopTicker()
	return append(effects, Effect{Kind: EffectFinished, Generation: c.generation})
}

func (c *SessionController) stopTicker() []Effect {
	if c.tickerGen == 0 {
		return nil
	}
	gen := c.tickerGen
	c.tickerGen = 0
	if c.session != nil {
		c.session.Polling = false
	}
	return []Effect{{Kind: EffectStopTicker, Generation: gen}}
}

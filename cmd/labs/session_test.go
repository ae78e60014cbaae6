package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedController(t *testing.T, id string) (*SessionController, []Effect) {
	t.Helper()
	c := NewSessionController()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	require.NoError(t, c.BeginSubmit())
	effects, err := c.Started(id, ExecutionRequest{Playbook: "site.yml", Hosts: []string{"h1"}})
	require.NoError(t, err)
	return c, effects
}

func effectKinds(effects []Effect) []EffectKind {
	out := []EffectKind{}
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestSessionPollsUntilTerminal(t *testing.T) {
	c, effects := startedController(t, "abc123")
	require.Equal(t, []EffectKind{EffectStartTicker}, effectKinds(effects))
	gen := effects[0].Generation
	assert.True(t, c.TickerLive(gen))

	s, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, StatusPending, s.Status)
	assert.True(t, s.Polling)

	t1, ok := c.Tick()
	require.True(t, ok)
	assert.Equal(t, "abc123", t1.ExecutionID)
	assert.Empty(t, c.ApplyStatus(t1, StatusReport{Status: StatusRunning, Stdout: "step1\n"}))

	t2, ok := c.Tick()
	require.True(t, ok)
	effects = c.ApplyStatus(t2, StatusReport{Status: StatusSuccess, Stdout: "step1\nstep2\n"})
	assert.Equal(t, []EffectKind{EffectStopTicker, EffectFinished}, effectKinds(effects))
	assert.Equal(t, gen, effects[0].Generation)

	s, _ = c.Session()
	assert.Equal(t, "step1\nstep2\n", s.Log())
	assert.Equal(t, StatusSuccess, s.Status)
	assert.False(t, s.Polling)
	assert.Equal(t, PhaseTerminal, c.Phase())
	assert.False(t, c.TickerLive(gen))

	_, ok = c.Tick()
	assert.False(t, ok, "no third tick after a terminal status")
}

func TestCancelWinsOverLatePoll(t *testing.T) {
	c, _ := startedController(t, "xyz")

	inflight, ok := c.Tick()
	require.True(t, ok)

	id, err := c.CancelTarget()
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)
	effects := c.CancelAcknowledged(id)
	assert.Equal(t, []EffectKind{EffectStopTicker, EffectFinished}, effectKinds(effects))

	assert.Empty(t, c.ApplyStatus(inflight, StatusReport{Status: StatusRunning, Stdout: "late"}))
	assert.Empty(t, c.ApplyStatus(inflight, StatusReport{Status: StatusSuccess}))

	s, _ := c.Session()
	assert.Equal(t, StatusCancelled, s.Status)
	assert.Empty(t, s.Stdout)
	assert.False(t, s.Polling)
}

func TestTickInFlightGuard(t *testing.T) {
	c, _ := startedController(t, "abc")

	first, ok := c.Tick()
	require.True(t, ok)
	assert.True(t, c.PollInFlight())

	_, ok = c.Tick()
	assert.False(t, ok, "tick while a fetch is outstanding")

	c.PollFailed(first, errors.New("connection refused"))
	assert.False(t, c.PollInFlight())
	assert.EqualError(t, c.LastError(), "connection refused")

	s, _ := c.Session()
	assert.Equal(t, StatusPending, s.Status, "poll failure leaves the session untouched")

	_, ok = c.Tick()
	assert.True(t, ok, "next tick retries")
}

func TestStopTickerEmittedOnce(t *testing.T) {
	c, _ := startedController(t, "abc")
	tk, _ := c.Tick()
	effects := c.ApplyStatus(tk, StatusReport{Status: StatusFailed})
	require.Len(t, effects, 2)

	assert.Empty(t, c.CancelAcknowledged("abc"), "cancel after terminal is a no-op")
	assert.Empty(t, c.ApplyStatus(tk, StatusReport{Status: StatusSuccess}))
	assert.Empty(t, c.Reset(), "ticker already released")

	s, ok := c.Session()
	assert.False(t, ok)
	assert.Empty(t, s.ID)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestStatusMergeRules(t *testing.T) {
	c, _ := startedController(t, "abc")

	tk, _ := c.Tick()
	c.ApplyStatus(tk, StatusReport{Status: StatusRunning, Stdout: "out1", Stderr: "warn1"})
	s, _ := c.Session()
	assert.Equal(t, "out1\n[ERROR] warn1", s.Log())

	tk, _ = c.Tick()
	effects := c.ApplyStatus(tk, StatusReport{Stdout: "", Stderr: ""})
	assert.Empty(t, effects)
	s, _ = c.Session()
	assert.Equal(t, "out1", s.Stdout, "empty stdout keeps the previous output")
	assert.Empty(t, s.Stderr, "stderr follows the latest report")
	assert.Equal(t, Status(""), s.Status, "status always follows the latest report")
	assert.Equal(t, PhasePolling, c.Phase())

	rc := 2
	tk, _ = c.Tick()
	effects = c.ApplyStatus(tk, StatusReport{Status: "queued", ReturnCode: &rc})
	assert.Empty(t, effects, "unknown status is not terminal")
	s, _ = c.Session()
	assert.Equal(t, Status("queued"), s.Status)
	require.NotNil(t, s.ReturnCode)
	assert.Equal(t, 2, *s.ReturnCode)
	rc = 5
	assert.Equal(t, 2, *s.ReturnCode)
}

func TestSubmitFailureCreatesNoSession(t *testing.T) {
	c := NewSessionController()
	require.NoError(t, c.BeginSubmit())
	assert.True(t, c.Submitting())
	assert.ErrorIs(t, c.BeginSubmit(), ErrSubmitInProgress)

	c.SubmitFailed(errors.New("boom"))
	assert.Equal(t, PhaseIdle, c.Phase())
	_, ok := c.Session()
	assert.False(t, ok)
	assert.EqualError(t, c.LastError(), "boom")

	_, ok = c.Tick()
	assert.False(t, ok)
	_, err := c.CancelTarget()
	assert.ErrorIs(t, err, ErrNoExecution)

	_, err = c.Started("late", ExecutionRequest{})
	assert.ErrorIs(t, err, ErrNotSubmitting)
}

func TestNewSubmissionReplacesPollingSession(t *testing.T) {
	c, first := startedController(t, "one")
	oldGen := first[0].Generation
	stale, ok := c.Tick()
	require.True(t, ok)

	require.NoError(t, c.BeginSubmit())
	assert.True(t, c.TickerLive(oldGen), "old session keeps polling while submitting")

	c.SubmitFailed(errors.New("rejected"))
	assert.Equal(t, PhasePolling, c.Phase(), "failed resubmit restores polling")

	require.NoError(t, c.BeginSubmit())
	effects, err := c.Started("two", ExecutionRequest{Playbook: "other.yml"})
	require.NoError(t, err)
	require.Equal(t, []EffectKind{EffectStopTicker, EffectStartTicker}, effectKinds(effects))
	assert.Equal(t, oldGen, effects[0].Generation)
	assert.NotEqual(t, oldGen, effects[1].Generation)
	assert.False(t, c.TickerLive(oldGen))

	assert.Empty(t, c.ApplyStatus(stale, StatusReport{Status: StatusSuccess}))
	s, _ := c.Session()
	assert.Equal(t, "two", s.ID)
	assert.Equal(t, StatusPending, s.Status)

	_, ok = c.Tick()
	assert.True(t, ok, "stale fetch does not hold the guard for the new session")
}

func TestPollingContinuesWhileResubmitting(t *testing.T) {
	c, first := startedController(t, "one")
	gen := first[0].Generation
	inFlight, ok := c.Tick()
	require.True(t, ok)

	require.NoError(t, c.BeginSubmit())
	assert.Empty(t, c.ApplyStatus(inFlight, StatusReport{Status: StatusRunning, Stdout: "step1\n"}))
	s, _ := c.Session()
	assert.Equal(t, "step1\n", s.Stdout, "in-flight result still applies")

	tk, ok := c.Tick()
	require.True(t, ok, "old session keeps polling during the submit window")
	effects := c.ApplyStatus(tk, StatusReport{Status: StatusSuccess})
	assert.Equal(t, []EffectKind{EffectStopTicker, EffectFinished}, effectKinds(effects))
	assert.True(t, c.Submitting(), "submission stays pending")
	assert.False(t, c.TickerLive(gen))
	_, ok = c.Tick()
	assert.False(t, ok)

	c.SubmitFailed(errors.New("rejected"))
	assert.Equal(t, PhaseTerminal, c.Phase(), "failed resubmit lands on the finished session")

	require.NoError(t, c.BeginSubmit())
	effects, err := c.Started("two", ExecutionRequest{Playbook: "other.yml"})
	require.NoError(t, err)
	assert.Equal(t, []EffectKind{EffectStartTicker}, effectKinds(effects))
	assert.Equal(t, PhasePolling, c.Phase())
}

func TestApplyStatusFillsMissingRequestFields(t *testing.T) {
	c := NewSessionController()
	require.NoError(t, c.BeginSubmit())
	_, err := c.Started("ext", ExecutionRequest{})
	require.NoError(t, err)

	tk, _ := c.Tick()
	c.ApplyStatus(tk, StatusReport{Status: StatusRunning, Playbook: "site.yml", Hosts: []string{"h1"}, Tags: []string{"deploy"}})
	s, _ := c.Session()
	assert.Equal(t, "site.yml", s.Playbook)
	assert.Equal(t, []string{"h1"}, s.Hosts)
	assert.Equal(t, []string{"deploy"}, s.Tags)

	known, _ := startedController(t, "abc")
	tk, _ = known.Tick()
	known.ApplyStatus(tk, StatusReport{Status: StatusRunning, Playbook: "other.yml", Hosts: []string{"h9"}})
	s, _ = known.Session()
	assert.Equal(t, "site.yml", s.Playbook, "submitted values win")
	assert.Equal(t, []string{"h1"}, s.Hosts)
}

func TestCancelFailureKeepsPolling(t *testing.T) {
	c, _ := startedController(t, "abc")
	c.CancelFailed(errors.New("503"))

	assert.Equal(t, PhasePolling, c.Phase())
	s, _ := c.Session()
	assert.Equal(t, StatusPending, s.Status)
	assert.True(t, s.Polling)
	assert.Empty(t, c.CancelAcknowledged("other"), "ack for a different execution is ignored")
}

func TestSessionLog(t *testing.T) {
	tests := []struct {
		stdout, stderr, expected string
	}{
		{"", "", ""},
		{"ok\n", "", "ok\n"},
		{"", "bad", "\n[ERROR] bad"},
		{"ok\n", "bad", "ok\n\n[ERROR] bad"},
	}
	for _, tt := range tests {
		s := ExecutionSession{Stdout: tt.stdout, Stderr: tt.stderr}
		assert.Equal(t, tt.expected, s.Log())
	}
}

package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// loadedModel returns a console model whose catalog has been fetched from fake.
func loadedModel(t *testing.T, fake *fakeExecutor) *consoleModel {
	t.Helper()
	m := newConsoleModel(context.Background(), testConsole(t, fake, nil), time.Hour, nil)
	msg := m.loadCatalogCmd()()
	_, cmd := m.Update(msg)
	assert.Nil(t, cmd)
	require.False(t, m.loading)
	require.NoError(t, m.loadErr)
	return m
}

// pollingModel walks a model through selection and submission.
func pollingModel(t *testing.T, fake *fakeExecutor) *consoleModel {
	t.Helper()
	m := loadedModel(t, fake)
	m.Update(keyRunes("x"))
	m.Update(keyEnter)
	require.Equal(t, stepPlaybook, m.step)
	m.Update(keyEnter)
	require.Equal(t, stepReview, m.step)

	_, cmd := m.Update(keyEnter)
	require.NotNil(t, cmd)
	require.True(t, m.ctrl.Submitting())

	_, cmd = m.Update(m.submitCmd(m.playbook)())
	require.NotNil(t, cmd, "ticker scheduled")
	require.Equal(t, stepExecution, m.step)
	require.Equal(t, PhasePolling, m.ctrl.Phase())
	return m
}

func TestConsoleModelRequiresTarget(t *testing.T) {
	m := loadedModel(t, newFakeExecutor())

	m.Update(keyEnter)
	assert.Equal(t, stepTargets, m.step)
	assert.Equal(t, "select at least one group or host", m.notice)

	m.Update(keyRunes("x"))
	assert.True(t, m.sel.IsSelected(KindGroup, "web"))
	assert.Empty(t, m.notice)

	m.Update(keyEnter)
	assert.Equal(t, stepPlaybook, m.step)
}

func TestConsoleModelTabTogglesHosts(t *testing.T) {
	m := loadedModel(t, newFakeExecutor())

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(keyRunes("j"))
	m.Update(keyRunes("x"))
	assert.Equal(t, []string{"h2"}, m.sel.Selected(KindHost))
	assert.Empty(t, m.sel.Selected(KindGroup))

	m.Update(keyRunes("x"))
	assert.False(t, m.sel.HasTargetSelection())
}

func TestConsoleModelPlaybookStep(t *testing.T) {
	m := loadedModel(t, newFakeExecutor())
	m.Update(keyRunes("x"))
	m.Update(keyEnter)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(keyRunes("x"))
	assert.Equal(t, []string{"deploy"}, m.sel.SelectedTags())

	m.Update(keyEsc)
	assert.Equal(t, stepTargets, m.step)
	assert.True(t, m.sel.IsSelected(KindGroup, "web"), "selection survives going back")
}

func TestConsoleModelPlaybookRequired(t *testing.T) {
	fake := newFakeExecutor()
	fake.playbooks = nil
	m := loadedModel(t, fake)
	m.Update(keyRunes("x"))
	m.Update(keyEnter)

	m.Update(keyEnter)
	assert.Equal(t, stepPlaybook, m.step)
	assert.Equal(t, "choose a playbook", m.notice)
}

func TestConsoleModelSubmitFailure(t *testing.T) {
	m := loadedModel(t, newFakeExecutor())
	m.Update(keyRunes("x"))
	m.Update(keyEnter)
	m.Update(keyEnter)
	m.Update(keyEnter)
	require.True(t, m.ctrl.Submitting())

	_, cmd := m.Update(submitResultMsg{err: errors.New("executor busy")})
	assert.Nil(t, cmd)
	assert.Equal(t, stepReview, m.step)
	assert.Equal(t, PhaseIdle, m.ctrl.Phase())
	assert.Contains(t, m.View(), "executor busy")
}

func TestConsoleModelDropsStaleTick(t *testing.T) {
	fake := newFakeExecutor()
	fake.scripts["abc123"] = []StatusReport{{Status: StatusRunning, Stdout: "TASK [ping]\n"}}
	m := pollingModel(t, fake)
	gen := m.ctrl.Generation()

	_, cmd := m.Update(pollTickMsg{generation: gen + 7})
	assert.Nil(t, cmd, "stale tick is not rescheduled")
	assert.False(t, m.ctrl.PollInFlight())

	_, cmd = m.Update(pollTickMsg{generation: gen})
	assert.NotNil(t, cmd)
	assert.True(t, m.ctrl.PollInFlight())

	_, cmd = m.Update(pollTickMsg{generation: gen})
	assert.NotNil(t, cmd, "live tick reschedules even while a poll is outstanding")
}

func TestConsoleModelStatusToTerminal(t *testing.T) {
	fake := newFakeExecutor()
	rc := 0
	fake.scripts["abc123"] = []StatusReport{{Status: StatusSuccess, Stdout: "PLAY RECAP\n", ReturnCode: &rc}}
	m := pollingModel(t, fake)
	gen := m.ctrl.Generation()

	m.Update(pollTickMsg{generation: gen})
	ticket := PollTicket{ExecutionID: "abc123", Generation: gen}
	_, cmd := m.Update(m.fetchCmd(ticket)())
	assert.NotNil(t, cmd, "history record scheduled")

	assert.Equal(t, PhaseTerminal, m.ctrl.Phase())
	s, ok := m.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, s.Status)
	assert.False(t, s.Polling)
	assert.Contains(t, m.viewport.View(), "PLAY RECAP")

	_, cmd = m.Update(pollTickMsg{generation: gen})
	assert.Nil(t, cmd, "ticker ends once terminal")

	view := m.View()
	assert.Contains(t, view, "SUCCESS")
	assert.Contains(t, view, "rc: ")
}

func TestConsoleModelPollFailureKeepsPolling(t *testing.T) {
	m := pollingModel(t, newFakeExecutor())
	gen := m.ctrl.Generation()

	m.Update(pollTickMsg{generation: gen})
	_, cmd := m.Update(statusResultMsg{ticket: PollTicket{ExecutionID: "abc123", Generation: gen}, err: errors.New("timeout")})
	assert.Nil(t, cmd)
	assert.Equal(t, PhasePolling, m.ctrl.Phase())
	assert.False(t, m.ctrl.PollInFlight())
	assert.True(t, m.ctrl.TickerLive(gen))
}

func TestConsoleModelCancel(t *testing.T) {
	fake := newFakeExecutor()
	fake.scripts["abc123"] = []StatusReport{{Status: StatusRunning}}
	m := pollingModel(t, fake)
	gen := m.ctrl.Generation()

	_, cmd := m.Update(keyRunes("c"))
	require.NotNil(t, cmd)
	assert.True(t, m.cancelling)

	_, again := m.Update(keyRunes("c"))
	assert.Nil(t, again, "second cancel ignored while one is outstanding")

	_, cmd = m.Update(cmd())
	assert.NotNil(t, cmd)
	assert.False(t, m.cancelling)
	assert.Equal(t, PhaseTerminal, m.ctrl.Phase())
	s, _ := m.ctrl.Session()
	assert.Equal(t, StatusCancelled, s.Status)
	assert.False(t, m.ctrl.TickerLive(gen))

	fake.mu.Lock()
	assert.Equal(t, []string{"abc123"}, fake.cancelled)
	fake.mu.Unlock()

	_, cmd = m.Update(keyRunes("c"))
	assert.Nil(t, cmd, "cancel is only offered while polling")
}

func TestConsoleModelCancelFailure(t *testing.T) {
	m := pollingModel(t, newFakeExecutor())
	m.Update(keyRunes("c"))

	_, cmd := m.Update(cancelResultMsg{id: "abc123", err: errors.New("not found")})
	assert.Nil(t, cmd)
	assert.False(t, m.cancelling)
	assert.Equal(t, PhasePolling, m.ctrl.Phase())
	assert.EqualError(t, m.ctrl.LastError(), "not found")
}

func TestConsoleModelNewRun(t *testing.T) {
	fake := newFakeExecutor()
	fake.scripts["abc123"] = []StatusReport{{Status: StatusFailed}}
	m := pollingModel(t, fake)
	gen := m.ctrl.Generation()

	m.Update(keyRunes("n"))
	assert.Equal(t, stepTargets, m.step)
	assert.Equal(t, PhasePolling, m.ctrl.Phase(), "running execution keeps polling")
	assert.True(t, m.ctrl.TickerLive(gen))

	m.step = stepExecution
	m.Update(pollTickMsg{generation: gen})
	m.Update(m.fetchCmd(PollTicket{ExecutionID: "abc123", Generation: gen})())
	require.Equal(t, PhaseTerminal, m.ctrl.Phase())

	m.Update(keyRunes("n"))
	assert.Equal(t, stepTargets, m.step)
	assert.Equal(t, PhaseIdle, m.ctrl.Phase())
	_, ok := m.ctrl.Session()
	assert.False(t, ok)
}

func TestConsoleModelCatalogError(t *testing.T) {
	fake := newFakeExecutor()
	fake.fail["/health"] = 1
	m := newConsoleModel(context.Background(), testConsole(t, fake, nil), time.Hour, nil)
	assert.Contains(t, m.View(), "loading catalog")

	m.Update(m.loadCatalogCmd()())
	require.Error(t, m.loadErr)
	assert.Contains(t, m.View(), "r: retry")

	_, cmd := m.Update(keyRunes("r"))
	assert.NotNil(t, cmd)
	assert.True(t, m.loading)

	m.Update(m.loadCatalogCmd()())
	assert.NoError(t, m.loadErr)
	assert.Len(t, m.catalog.Groups, 2)
}

func TestConsoleModelQuit(t *testing.T) {
	m := loadedModel(t, newFakeExecutor())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestRenderStatusBadge(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusSuccess, "SUCCESS"},
		{StatusFailed, "FAILED"},
		{StatusCancelled, "CANCELLED"},
		{StatusPending, "PENDING"},
		{Status(""), "UNKNOWN"},
	}
	for _, tt := range tests {
		got := renderStatusBadge(tt.status)
		if !strings.Contains(got, tt.expected) {
			t.Errorf("renderStatusBadge(%q): expected %q in %q", tt.status, tt.expected, got)
		}
	}
	assert.Equal(t, colorPrimary, statusColor(Status("queued")))
}

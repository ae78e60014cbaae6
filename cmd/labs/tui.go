package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

type consoleStep int

const (
	stepTargets consoleStep = iota
	stepPlaybook
	stepReview
	stepExecution
)

var stepNames = []string{"Targets", "Playbook & Tags", "Review", "Execution"}

type listFocus int

const (
	focusPrimary listFocus = iota
	focusSecondary
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Tab    key.Binding
	Toggle key.Binding
	Enter  key.Binding
	Back   key.Binding
	Cancel key.Binding
	New    key.Binding
	Retry  key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Tab:    key.NewBinding(key.WithKeys("tab", "shift+tab")),
	Toggle: key.NewBinding(key.WithKeys(" ", "x")),
	Enter:  key.NewBinding(key.WithKeys("enter")),
	Back:   key.NewBinding(key.WithKeys("esc")),
	Cancel: key.NewBinding(key.WithKeys("c")),
	New:    key.NewBinding(key.WithKeys("n")),
	Retry:  key.NewBinding(key.WithKeys("r")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c", "q")),
}

type catalogLoadedMsg struct {
	catalog Catalog
	err     error
}

type submitResultMsg struct {
	req ExecutionRequest
	id  string
	err error
}

// pollTickMsg carries the generation of the ticker that scheduled it. A tick
// whose generation is no longer live is dropped and not rescheduled.
type pollTickMsg struct {
	generation uint64
}

type statusResultMsg struct {
	ticket PollTicket
	report StatusReport
	err    error
}

type cancelResultMsg struct {
	id  string
	err error
}

type consoleModel struct {
	ctx      context.Context
	console  *Console
	ctrl     *SessionController
	sel      *Selection
	catalog  Catalog
	interval time.Duration
	log      logrus.FieldLogger

	step       consoleStep
	focus      listFocus
	cursors    [2]int
	playbook   string
	loading    bool
	loadErr    error
	notice     string
	cancelling bool
	quitting   bool

	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
}

func newConsoleModel(ctx context.Context, console *Console, interval time.Duration, log logrus.FieldLogger) *consoleModel {
	if interval <= 0 {
		interval = defaultPollIntervalMs * time.Millisecond
	}
	if log == nil {
		log = discardLogger()
	}
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(colorPrimary)),
	)
	return &consoleModel{
		ctx:      ctx,
		console:  console,
		ctrl:     NewSessionController(),
		sel:      NewSelection(),
		interval: interval,
		log:      log,
		loading:  true,
		spinner:  sp,
		viewport: viewport.New(80, 12),
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.loadCatalogCmd(), m.spinner.Tick)
}

func (m *consoleModel) loadCatalogCmd() tea.Cmd {
	return func() tea.Msg {
		cat, err := m.console.LoadCatalog(m.ctx)
		return catalogLoadedMsg{catalog: cat, err: err}
	}
}

func (m *consoleModel) submitCmd(playbook string) tea.Cmd {
	sel := m.sel
	return func() tea.Msg {
		req, id, err := m.console.Submit(m.ctx, sel, playbook)
		return submitResultMsg{req: req, id: id, err: err}
	}
}

func (m *consoleModel) tickCmd(gen uint64) tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return pollTickMsg{generation: gen}
	})
}

func (m *consoleModel) fetchCmd(t PollTicket) tea.Cmd {
	api := m.console.API()
	return func() tea.Msg {
		report, err := api.FetchStatus(m.ctx, t.ExecutionID)
		return statusResultMsg{ticket: t, report: report, err: err}
	}
}

func (m *consoleModel) cancelCmd(id string) tea.Cmd {
	api := m.console.API()
	return func() tea.Msg {
		return cancelResultMsg{id: id, err: api.Cancel(m.ctx, id)}
	}
}

func (m *consoleModel) recordCmd() tea.Cmd {
	s, ok := m.ctrl.Session()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		m.console.Record(m.ctx, s)
		return nil
	}
}

// applyEffects turns controller effects into commands. StopTicker needs no
// command: the tick chain ends when its generation stops being live.
func (m *consoleModel) applyEffects(effects []Effect) tea.Cmd {
	var cmds []tea.Cmd
	for _, e := range effects {
		switch e.Kind {
		case EffectStartTicker:
			cmds = append(cmds, m.tickCmd(e.Generation))
		case EffectFinished:
			m.cancelling = false
			cmds = append(cmds, m.recordCmd())
		}
	}
	m.refreshLog()
	return tea.Batch(cmds...)
}

func (m *consoleModel) refreshLog() {
	s, ok := m.ctrl.Session()
	if !ok {
		m.viewport.SetContent("")
		return
	}
	content := s.Log()
	if content == "" {
		content = mutedStyle.Render("waiting for output...")
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m *consoleModel) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.viewport.Width = m.width - 4
	h := m.height - 12
	if h < 3 {
		h = 3
	}
	m.viewport.Height = h
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case catalogLoadedMsg:
		m.loading = false
		m.catalog = msg.catalog
		m.loadErr = msg.err
		return m, nil

	case submitResultMsg:
		if msg.err != nil {
			m.ctrl.SubmitFailed(msg.err)
			m.notice = ""
			return m, nil
		}
		effects, err := m.ctrl.Started(msg.id, msg.req)
		if err != nil {
			m.log.WithError(err).Warn("submit result arrived without a pending submission")
			return m, nil
		}
		m.step = stepExecution
		m.notice = ""
		return m, m.applyEffects(effects)

	case pollTickMsg:
		if !m.ctrl.TickerLive(msg.generation) {
			return m, nil
		}
		next := m.tickCmd(msg.generation)
		if t, ok := m.ctrl.Tick(); ok {
			return m, tea.Batch(m.fetchCmd(t), next)
		}
		return m, next

	case statusResultMsg:
		if msg.err != nil {
			m.ctrl.PollFailed(msg.ticket, msg.err)
			m.log.WithError(msg.err).WithField("execution_id", msg.ticket.ExecutionID).Warn("status poll failed")
			return m, nil
		}
		return m, m.applyEffects(m.ctrl.ApplyStatus(msg.ticket, msg.report))

	case cancelResultMsg:
		m.cancelling = false
		if msg.err != nil {
			m.ctrl.CancelFailed(msg.err)
			m.log.WithError(msg.err).WithField("execution_id", msg.id).Error("cancel failed")
			return m, nil
		}
		return m, m.applyEffects(m.ctrl.CancelAcknowledged(msg.id))

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.step == stepExecution {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *consoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if m.loading {
		return m, nil
	}
	if m.loadErr != nil && key.Matches(msg, keys.Retry) {
		m.loading = true
		m.loadErr = nil
		return m, tea.Batch(m.loadCatalogCmd(), m.spinner.Tick)
	}

	switch m.step {
	case stepTargets, stepPlaybook:
		return m.handleListKey(msg)
	case stepReview:
		return m.handleReviewKey(msg)
	case stepExecution:
		return m.handleExecutionKey(msg)
	}
	return m, nil
}

func (m *consoleModel) listLen(f listFocus) int {
	switch {
	case m.step == stepTargets && f == focusPrimary:
		return len(m.catalog.Groups)
	case m.step == stepTargets && f == focusSecondary:
		return len(m.catalog.Hosts)
	case m.step == stepPlaybook && f == focusPrimary:
		return len(m.catalog.Playbooks)
	case m.step == stepPlaybook && f == focusSecondary:
		return len(m.catalog.Tags)
	}
	return 0
}

func (m *consoleModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cur := &m.cursors[m.focus]
	switch {
	case key.Matches(msg, keys.Up):
		if *cur > 0 {
			*cur--
		}
	case key.Matches(msg, keys.Down):
		if *cur < m.listLen(m.focus)-1 {
			*cur++
		}
	case key.Matches(msg, keys.Tab):
		m.focus = 1 - m.focus
	case key.Matches(msg, keys.Toggle):
		m.toggleCurrent()
	case key.Matches(msg, keys.Back):
		if m.step == stepPlaybook {
			m.gotoStep(stepTargets)
		}
	case key.Matches(msg, keys.Enter):
		if m.step == stepTargets {
			if !m.sel.HasTargetSelection() {
				m.notice = "select at least one group or host"
				return m, nil
			}
			m.gotoStep(stepPlaybook)
			return m, nil
		}
		if m.focus == focusPrimary && m.listLen(focusPrimary) > 0 {
			m.playbook = m.catalog.Playbooks[m.cursors[focusPrimary]].Name
		}
		if m.playbook == "" {
			m.notice = "choose a playbook"
			return m, nil
		}
		m.gotoStep(stepReview)
	}
	return m, nil
}

func (m *consoleModel) toggleCurrent() {
	idx := m.cursors[m.focus]
	if idx >= m.listLen(m.focus) {
		return
	}
	m.notice = ""
	switch {
	case m.step == stepTargets && m.focus == focusPrimary:
		m.sel.Toggle(KindGroup, m.catalog.Groups[idx].Name) //nolint:errcheck
	case m.step == stepTargets && m.focus == focusSecondary:
		m.sel.Toggle(KindHost, m.catalog.Hosts[idx].Name) //nolint:errcheck
	case m.step == stepPlaybook && m.focus == focusPrimary:
		name := m.catalog.Playbooks[idx].Name
		if m.playbook == name {
			m.playbook = ""
		} else {
			m.playbook = name
		}
	case m.step == stepPlaybook && m.focus == focusSecondary:
		m.sel.Toggle(KindTag, m.catalog.Tags[idx]) //nolint:errcheck
	}
}

func (m *consoleModel) gotoStep(step consoleStep) {
	m.step = step
	m.focus = focusPrimary
	m.cursors = [2]int{}
	m.notice = ""
}

func (m *consoleModel) handleReviewKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.gotoStep(stepPlaybook)
	case key.Matches(msg, keys.Enter):
		if !CanSubmit(m.playbook, m.sel) {
			m.notice = "a playbook and at least one target are required"
			return m, nil
		}
		if err := m.ctrl.BeginSubmit(); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.notice = "submitting..."
		return m, tea.Batch(m.submitCmd(m.playbook), m.spinner.Tick)
	}
	return m, nil
}

func (m *consoleModel) handleExecutionKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		if m.cancelling || m.ctrl.Phase() != PhasePolling {
			return m, nil
		}
		id, err := m.ctrl.CancelTarget()
		if err != nil {
			return m, nil
		}
		m.cancelling = true
		return m, m.cancelCmd(id)
	case key.Matches(msg, keys.New), key.Matches(msg, keys.Back):
		// A running execution keeps polling until a new submission
		// replaces it.
		if m.ctrl.Phase() == PhaseTerminal {
			m.ctrl.Reset()
			m.refreshLog()
		}
		m.gotoStep(stepTargets)
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *consoleModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Ansible Labs Console"))
	b.WriteString("\n")
	b.WriteString(m.renderStepIndicator())
	b.WriteString("\n\n")

	if m.loading {
		b.WriteString(m.spinner.View() + " loading catalog from " + executorLabel(m.console) + "\n")
		return b.String()
	}
	if m.loadErr != nil {
		b.WriteString(warnStyle.Render("catalog: "+firstLine(m.loadErr.Error())) + "\n")
		b.WriteString(helpStyle.Render("r: retry") + "\n\n")
	}

	switch m.step {
	case stepTargets:
		b.WriteString(m.renderTargets())
	case stepPlaybook:
		b.WriteString(m.renderPlaybook())
	case stepReview:
		b.WriteString(m.renderReview())
	case stepExecution:
		b.WriteString(m.renderExecution())
	}
	if m.notice != "" {
		b.WriteString("\n" + warnStyle.Render(m.notice))
	}
	if err := m.ctrl.LastError(); err != nil && m.step != stepExecution {
		b.WriteString("\n" + errorStyle.Render(firstLine(err.Error())))
	}
	return b.String()
}

func (m *consoleModel) renderStepIndicator() string {
	var parts []string
	for i, s := range stepNames {
		switch {
		case i == int(m.step):
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Render("● "+s))
		case i < int(m.step):
			parts = append(parts, lipgloss.NewStyle().Foreground(colorSuccess).Render("✓ "+s))
		default:
			parts = append(parts, mutedStyle.Render("○ "+s))
		}
	}
	return strings.Join(parts, "  ")
}

func (m *consoleModel) renderRow(f listFocus, idx int, checked bool, label string) string {
	active := m.focus == f && m.cursors[f] == idx
	cursor := "  "
	if active {
		cursor = "▸ "
	}
	box := "[ ]"
	if checked {
		box = checkboxStyle.Render("[✓]")
	}
	line := fmt.Sprintf("%s %s %s", cursor, box, label)
	if active {
		return selectedItemStyle.Render(line)
	}
	return itemStyle.Render(line)
}

func (m *consoleModel) renderHeading(f listFocus, title string) string {
	if m.focus == f {
		return sectionStyle.Render(title)
	}
	return labelStyle.Render(title)
}

func (m *consoleModel) renderTargets() string {
	var b strings.Builder
	b.WriteString(m.renderHeading(focusPrimary, "Groups") + "\n")
	if len(m.catalog.Groups) == 0 {
		b.WriteString(itemStyle.Render(mutedStyle.Render("no groups")) + "\n")
	}
	for i, g := range m.catalog.Groups {
		label := fmt.Sprintf("%-20s %s", g.Name, mutedStyle.Render(fmt.Sprintf("%d hosts", len(g.Hosts))))
		b.WriteString(m.renderRow(focusPrimary, i, m.sel.IsSelected(KindGroup, g.Name), label) + "\n")
	}
	b.WriteString("\n" + m.renderHeading(focusSecondary, "Hosts") + "\n")
	if len(m.catalog.Hosts) == 0 {
		b.WriteString(itemStyle.Render(mutedStyle.Render("no hosts")) + "\n")
	}
	for i, h := range m.catalog.Hosts {
		label := fmt.Sprintf("%-20s %s", h.Name, mutedStyle.Render(h.Address()))
		b.WriteString(m.renderRow(focusSecondary, i, m.sel.IsSelected(KindHost, h.Name), label) + "\n")
	}
	b.WriteString("\n" + confirmStyle.Render(fmt.Sprintf("Selected: %d", m.sel.TargetCount())))
	b.WriteString("\n" + helpStyle.Render("↑/↓: navigate • tab: switch list • space/x: toggle • enter: next • q: quit"))
	return b.String()
}

func (m *consoleModel) renderPlaybook() string {
	var b strings.Builder
	b.WriteString(m.renderHeading(focusPrimary, "Playbooks") + "\n")
	if len(m.catalog.Playbooks) == 0 {
		b.WriteString(itemStyle.Render(mutedStyle.Render("no playbooks")) + "\n")
	}
	for i, pb := range m.catalog.Playbooks {
		b.WriteString(m.renderRow(focusPrimary, i, m.playbook == pb.Name, pb.Label()) + "\n")
	}
	b.WriteString("\n" + m.renderHeading(focusSecondary, "Tags") + "\n")
	if len(m.catalog.Tags) == 0 {
		b.WriteString(itemStyle.Render(mutedStyle.Render("no tags")) + "\n")
	}
	for i, tag := range m.catalog.Tags {
		b.WriteString(m.renderRow(focusSecondary, i, m.sel.IsSelected(KindTag, tag), tag) + "\n")
	}
	b.WriteString(helpStyle.Render("↑/↓: navigate • tab: switch list • space/x: toggle • enter: review • esc: back"))
	return b.String()
}

func (m *consoleModel) renderReview() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Review execution:"))
	b.WriteString("\n\n")
	row := func(label string, values []string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %-10s ", label)))
		if len(values) == 0 {
			b.WriteString(mutedStyle.Render("all"))
		} else {
			b.WriteString(valueStyle.Render(strings.Join(values, ", ")))
		}
		b.WriteString("\n")
	}
	row("Playbook", []string{m.playbook})
	row("Groups", m.sel.Selected(KindGroup))
	row("Hosts", m.sel.Selected(KindHost))
	row("Tags", m.sel.SelectedTags())
	b.WriteString("\n")
	if m.ctrl.Submitting() {
		b.WriteString(m.spinner.View() + " submitting")
	} else if CanSubmit(m.playbook, m.sel) {
		b.WriteString(confirmStyle.Render("Press enter to run, esc to go back, q to quit"))
	} else {
		b.WriteString(warnStyle.Render("A playbook and at least one target are required"))
	}
	return b.String()
}

func (m *consoleModel) renderExecution() string {
	s, ok := m.ctrl.Session()
	if !ok {
		return mutedStyle.Render("no execution")
	}
	var b strings.Builder
	header := fmt.Sprintf("%s  %s", renderStatusBadge(s.Status), valueStyle.Render(s.Playbook))
	if s.Polling {
		header += "  " + m.spinner.View()
	}
	b.WriteString(header + "\n")
	b.WriteString(labelStyle.Render("  id: ") + mutedStyle.Render(s.ID))
	if s.ReturnCode != nil {
		b.WriteString(labelStyle.Render("  rc: ") + valueStyle.Render(fmt.Sprint(*s.ReturnCode)))
	}
	b.WriteString("\n")
	b.WriteString(logBoxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	if err := m.ctrl.LastError(); err != nil {
		b.WriteString(errorStyle.Render(firstLine(err.Error())) + "\n")
	}
	help := "c: cancel • n: new run • ↑/↓: scroll • q: quit"
	if m.cancelling {
		help = "cancelling... • q: quit"
	} else if !s.Polling {
		help = "n: new run • ↑/↓: scroll • q: quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func executorLabel(c *Console) string {
	if ec, ok := c.API().(*ExecutorClient); ok {
		return ec.BaseURL()
	}
	return "executor"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var errTUINeedsTerminal = errors.New("the interactive console needs a terminal; use `labs run` instead")

func runTUI(ctx context.Context, console *Console, interval time.Duration, log logrus.FieldLogger) error {
	m := newConsoleModel(ctx, console, interval, log)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

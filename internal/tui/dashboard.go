package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Tab constants for navigation.
const (
	TabTasks = iota
	TabApprovals
	TabEvents
	tabCount
)

const maxEvents = 200

// Source supplies the data the dashboard refreshes from.
type Source interface {
	Tasks() ([]*models.DelegatedTask, error)
	Approvals() ([]approval.Record, error)
}

// snapshotMsg carries one refresh of the source.
type snapshotMsg struct {
	tasks     []*models.DelegatedTask
	approvals []approval.Record
	err       error
	at        time.Time
}

type tickMsg time.Time

// EventMsg wraps an orchestrator event for the dashboard.
type EventMsg orchestrator.Event

// eventsClosedMsg signals that the event channel was closed.
type eventsClosedMsg struct{}

// Dashboard is the bubbletea model behind "conductor watch".
type Dashboard struct {
	src      Source
	events   <-chan orchestrator.Event
	interval time.Duration
	now      func() time.Time

	currentTab int
	tasks      table.Model
	approvals  table.Model
	log        []string
	snapshot   snapshotMsg
	lastErr    error
	refreshed  time.Time
	width      int
	height     int
	quitting   bool
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithEvents streams events into the Events tab.
func WithEvents(ch <-chan orchestrator.Event) DashboardOption {
	return func(d *Dashboard) { d.events = ch }
}

// WithRefresh sets how often the source is polled.
func WithRefresh(interval time.Duration) DashboardOption {
	return func(d *Dashboard) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithClock sets the time source used for task ages.
func WithClock(now func() time.Time) DashboardOption {
	return func(d *Dashboard) { d.now = now }
}

// NewDashboard creates a Dashboard reading from src.
func NewDashboard(src Source, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		src:      src,
		interval: time.Second,
		now:      time.Now,
		width:    100,
		height:   24,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.tasks = table.New(
		table.WithColumns(taskColumns(d.width)),
		table.WithFocused(true),
	)
	d.approvals = table.New(
		table.WithColumns(approvalColumns(d.width)),
	)
	d.resize()
	return d
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	cmds := []tea.Cmd{d.refresh()}
	if d.events != nil {
		cmds = append(cmds, waitForEvent(d.events))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		case "tab":
			d.setTab((d.currentTab + 1) % tabCount)
			return d, nil
		case "1":
			d.setTab(TabTasks)
			return d, nil
		case "2":
			d.setTab(TabApprovals)
			return d, nil
		case "3":
			d.setTab(TabEvents)
			return d, nil
		case "r":
			return d, d.refresh()
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.resize()
		return d, nil

	case snapshotMsg:
		d.apply(msg)
		return d, tea.Tick(d.interval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return d, d.refresh()

	case EventMsg:
		d.appendEvent(orchestrator.Event(msg))
		return d, waitForEvent(d.events)

	case eventsClosedMsg:
		d.log = append(d.log, timeStyle.Render(d.now().Format("15:04:05"))+" event stream closed")
		return d, nil
	}

	var cmd tea.Cmd
	switch d.currentTab {
	case TabTasks:
		d.tasks, cmd = d.tasks.Update(msg)
	case TabApprovals:
		d.approvals, cmd = d.approvals.Update(msg)
	}
	return d, cmd
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	var body string
	switch d.currentTab {
	case TabTasks:
		body = lipgloss.JoinVertical(lipgloss.Left, d.tasks.View(), d.viewTaskDetail())
	case TabApprovals:
		body = lipgloss.JoinVertical(lipgloss.Left, d.approvals.View(), d.viewLatestVerdict())
	case TabEvents:
		body = d.viewEvents()
	}

	status := fmt.Sprintf("%d tracked · %d approvals · refreshed %s",
		len(d.tasks.Rows()), len(d.approvals.Rows()), d.refreshed.Format("15:04:05"))
	if d.lastErr != nil {
		status = errorStyle.Render("refresh failed: " + d.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("conductor")+" "+d.viewTabs(),
		borderStyle.Render(body),
		footerStyle.Render(status+"  ·  tab/1-3 switch · r refresh · q quit"),
	)
}

// CurrentTab returns the selected tab.
func (d *Dashboard) CurrentTab() int { return d.currentTab }

func (d *Dashboard) setTab(tab int) {
	d.currentTab = tab
	if tab == TabTasks {
		d.tasks.Focus()
		d.approvals.Blur()
	} else {
		d.tasks.Blur()
		if tab == TabApprovals {
			d.approvals.Focus()
		}
	}
}

func (d *Dashboard) viewTabs() string {
	names := []string{"Tasks", "Approvals", "Events"}
	parts := make([]string, len(names))
	for i, n := range names {
		label := fmt.Sprintf("%d %s", i+1, n)
		if i == d.currentTab {
			parts[i] = activeTabStyle.Render(label)
		} else {
			parts[i] = tabStyle.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (d *Dashboard) viewEvents() string {
	if len(d.log) == 0 {
		return "No events yet"
	}
	lines := d.log
	if n := d.bodyHeight(); len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func (d *Dashboard) viewTaskDetail() string {
	i := d.tasks.Cursor()
	if i < 0 || i >= len(d.snapshot.tasks) {
		return ""
	}
	t := d.snapshot.tasks[i]
	line := fmt.Sprintf("%s  %s -> %s  %s", t.ID, t.Caller, t.TargetAgent, statusStyle(t.Status).Render(string(t.Status)))
	if t.Description != "" {
		line += "\n" + t.Description
	}
	if t.Error != "" {
		line += "\n" + errorStyle.Render(t.Error)
	}
	return line
}

func (d *Dashboard) viewLatestVerdict() string {
	recs := d.snapshot.approvals
	if len(recs) == 0 {
		return "No verdicts recorded"
	}
	r := recs[len(recs)-1]
	return fmt.Sprintf("latest: %s %s for %s", r.Approver, verdictStyle(r.Status).Render(string(r.Status)), r.TaskID)
}

func (d *Dashboard) refresh() tea.Cmd {
	src, now := d.src, d.now
	return func() tea.Msg {
		tasks, err := src.Tasks()
		if err != nil {
			return snapshotMsg{err: err, at: now()}
		}
		approvals, err := src.Approvals()
		return snapshotMsg{tasks: tasks, approvals: approvals, err: err, at: now()}
	}
}

func (d *Dashboard) apply(msg snapshotMsg) {
	d.lastErr = msg.err
	if msg.err != nil {
		return
	}
	d.refreshed = msg.at
	d.snapshot = msg

	rows := make([]table.Row, 0, len(msg.tasks))
	for _, t := range msg.tasks {
		rows = append(rows, table.Row{
			shortID(t.ID),
			t.TargetAgent,
			string(t.Category),
			string(t.Status),
			strings.Join(t.Files, ", "),
			age(msg.at, t),
		})
	}
	d.tasks.SetRows(rows)

	recs := make([]table.Row, 0, len(msg.approvals))
	for i := len(msg.approvals) - 1; i >= 0; i-- {
		r := msg.approvals[i]
		recs = append(recs, table.Row{
			r.Timestamp.Local().Format("01-02 15:04:05"),
			r.Approver,
			shortID(r.TaskID),
			string(r.Status),
		})
	}
	d.approvals.SetRows(recs)
}

func (d *Dashboard) appendEvent(ev orchestrator.Event) {
	at := ev.Timestamp
	if at.IsZero() {
		at = d.now()
	}
	line := fmt.Sprintf("%s %-24s %s %s", timeStyle.Render(at.Format("15:04:05")), ev.Type, shortID(ev.TaskID), ev.Agent)
	if ev.Message != "" {
		line += " · " + ev.Message
	}
	if ev.Error != nil {
		line += " " + errorStyle.Render(ev.Error.Error())
	}
	d.log = append(d.log, line)
	if len(d.log) > maxEvents {
		d.log = d.log[len(d.log)-maxEvents:]
	}
}

func (d *Dashboard) bodyHeight() int {
	h := d.height - 8
	if h < 3 {
		h = 3
	}
	return h
}

func (d *Dashboard) resize() {
	h := d.bodyHeight()
	d.tasks.SetColumns(taskColumns(d.width))
	d.tasks.SetHeight(h)
	d.approvals.SetColumns(approvalColumns(d.width))
	d.approvals.SetHeight(h)
}

func taskColumns(width int) []table.Column {
	files := width - 12 - 28 - 16 - 11 - 8 - 14
	if files < 10 {
		files = 10
	}
	return []table.Column{
		{Title: "Task", Width: 12},
		{Title: "Agent", Width: 28},
		{Title: "Category", Width: 16},
		{Title: "Status", Width: 11},
		{Title: "Files", Width: files},
		{Title: "Age", Width: 8},
	}
}

func approvalColumns(width int) []table.Column {
	approver := width - 16 - 12 - 10 - 10
	if approver < 20 {
		approver = 20
	}
	return []table.Column{
		{Title: "When", Width: 16},
		{Title: "Approver", Width: approver},
		{Title: "Task", Width: 12},
		{Title: "Verdict", Width: 10},
	}
}

func waitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg(ev)
	}
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "task_")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func age(now time.Time, t *models.DelegatedTask) string {
	if t.StartedAt.IsZero() {
		return "-"
	}
	end := now
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(t.StartedAt).Truncate(time.Second).String()
}

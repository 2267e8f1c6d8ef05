package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/api"
)

var (
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A0A0A0", Dark: "#5C5C5C"})
	specialStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C9A400", Dark: "#F0E442"})
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"})
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)

	activeTab   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("#7D56F4")).Foreground(lipgloss.Color("#7D56F4")).Bold(true).Padding(0, 1)
	inactiveTab = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.AdaptiveColor{Light: "#AAA", Dark: "#555"})

	colID     = lipgloss.NewStyle().Width(5)
	colName   = lipgloss.NewStyle().Width(18)
	colURL    = lipgloss.NewStyle().Width(30)
	colStatus = lipgloss.NewStyle().Width(21)
	colCode   = lipgloss.NewStyle().Width(6)
	colUptime = lipgloss.NewStyle().Width(9)
)

// lastCheckLayout is the timestamp format of the site tables.
const lastCheckLayout = "01-02 15:04:05"

// logFilters is the cycle order of the logs tab status filter.
var logFilters = []string{api.LogStatusAll, api.LogStatusOnline, api.LogStatusOffline}

const (
	tabDashboard = iota
	tabSites
	tabLogs
	tabCount
)

var tabNames = [tabCount]string{"Dashboard", "Sites", "Logs"}

type sessionState int

const (
	stateBrowse sessionState = iota
	stateForm
)

type (
	tickMsg    time.Time
	resultMsg  sitewatch.ActionResult
	refreshMsg struct{ err error }
	loadedMsg  struct{}
	formMsg    struct{ err error }
	busyMsg    struct{ target string }
)

// Model is the bubbletea model of the sitewatch terminal UI.
//
// The dashboard and app-status views stay open for the whole session. The
// sites and logs views are opened when their tab activates and closed when
// it is left, so every visit loads fresh data.
type Model struct {
	ctx   context.Context
	board *sitewatch.Board

	dashboard *sitewatch.View
	sites     *sitewatch.View
	logs      *sitewatch.View
	status    *sitewatch.View

	results chan sitewatch.ActionResult

	state      sessionState
	currentTab int

	cursor       int
	tableOffset  int
	maxTableRows int

	inputs   []textinput.Model
	focus    int
	errorMsg string

	logViewport viewport.Model
	logFilter   int

	flash    string
	flashErr bool

	dashSnap   sitewatch.Snapshot
	sitesSnap  sitewatch.Snapshot
	logsSnap   sitewatch.Snapshot
	statusSnap sitewatch.Snapshot
}

// New opens the always-on views. The caller must call [Model.Close] on the
// final model once the program has exited.
func New(ctx context.Context, board *sitewatch.Board) (Model, error) {
	m := Model{
		ctx:          ctx,
		board:        board,
		results:      make(chan sitewatch.ActionResult, 32),
		maxTableRows: 10,
		logViewport:  viewport.New(100, 20),
	}
	m.logViewport.SetContent("Waiting for logs...")

	kinds := []struct {
		kind sitewatch.ViewKind
		dst  **sitewatch.View
	}{
		{sitewatch.ViewAppStatus, &m.status},
		{sitewatch.ViewDashboard, &m.dashboard},
	}
	for _, k := range kinds {
		v, err := board.Open(ctx, k.kind)
		if err != nil {
			m.Close()
			return Model{}, fmt.Errorf("failed to open %s view: %w", k.kind, err)
		}
		*k.dst = v
	}

	m.dashboard.OnActionResult(m.forwardResult)

	return m, nil
}

func (m Model) forwardResult(res sitewatch.ActionResult) {
	select {
	case m.results <- res:
	default:
	}
}

// Close closes every view the model opened.
func (m Model) Close() {
	for _, v := range []*sitewatch.View{m.dashboard, m.sites, m.logs, m.status} {
		if v != nil {
			v.Close()
		}
	}
}

// Run starts the terminal UI on the alternate screen and blocks until the
// user quits or ctx is cancelled.
func Run(ctx context.Context, board *sitewatch.Board, opts ...tea.ProgramOption) error {
	m, err := New(ctx, board)
	if err != nil {
		return err
	}
	defer m.Close()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		fm.Close()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForResult())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForResult delivers the next action result to Update.
func (m Model) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case res := <-m.results:
			return resultMsg(res)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 6
		footerHeight := 2
		m.maxTableRows = msg.Height - headerHeight - footerHeight - 3
		if m.maxTableRows < 1 {
			m.maxTableRows = 1
		}
		m.logViewport.Width = msg.Width - 4
		m.logViewport.Height = msg.Height - headerHeight - footerHeight

	case tickMsg:
		m.syncState()
		return m, tick()

	case resultMsg:
		m.flash = msg.Message
		m.flashErr = msg.Err != nil
		m.syncState()
		return m, m.waitForResult()

	case loadedMsg:
		m.syncState()
		return m, nil

	case refreshMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.flash = "Refresh failed: " + api.UserMessage(msg.err, msg.err.Error())
			m.flashErr = true
		}
		m.syncState()
		return m, nil

	case busyMsg:
		m.flash = "Already in progress: " + msg.target
		m.flashErr = true
		return m, nil

	case formMsg:
		if msg.err != nil {
			m.errorMsg = api.UserMessage(msg.err, "Failed to add site")
			return m, nil
		}
		m.state = stateBrowse
		m.inputs = nil
		m.syncState()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.state {
		case stateBrowse:
			return m.updateBrowse(msg)

		case stateForm:
			switch msg.String() {
			case "esc":
				m.state = stateBrowse
				m.inputs = nil
				m.errorMsg = ""
				return m, nil

			case "tab", "shift+tab", "enter", "up", "down":
				s := msg.String()

				if s == "enter" && m.focus == len(m.inputs)-1 {
					m.errorMsg = ""
					return m, m.submitForm()
				}

				if s == "up" || s == "shift+tab" {
					m.focus--
				} else {
					m.focus++
				}
				if m.focus > len(m.inputs)-1 {
					m.focus = 0
				}
				if m.focus < 0 {
					m.focus = len(m.inputs) - 1
				}

				for i := range m.inputs {
					if i == m.focus {
						cmds = append(cmds, m.inputs[i].Focus())
					} else {
						m.inputs[i].Blur()
					}
				}
				return m, tea.Batch(cmds...)
			}
		}
	}

	if m.state == stateForm {
		for i := range m.inputs {
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "tab":
		m.currentTab = (m.currentTab + 1) % tabCount
		m.cursor = 0
		m.tableOffset = 0
		m.flash = ""
		return m, m.activate(m.currentTab)

	case "r":
		if v := m.currentView(); v != nil {
			return m, refresh(m.ctx, v)
		}

	case "pgup", "pgdown":
		if m.currentTab == tabLogs {
			m.logViewport, cmd = m.logViewport.Update(msg)
			return m, cmd
		}

	case "up", "k":
		if m.currentTab == tabLogs {
			m.logViewport.LineUp(1)
		} else if m.cursor > 0 {
			m.cursor--
			if m.cursor < m.tableOffset {
				m.tableOffset = m.cursor
			}
		}

	case "down", "j":
		if m.currentTab == tabLogs {
			m.logViewport.LineDown(1)
		} else if m.cursor < len(m.visibleSites())-1 {
			m.cursor++
			if m.cursor >= m.tableOffset+m.maxTableRows {
				m.tableOffset++
			}
		}

	case "n":
		if m.currentTab == tabSites && m.sites != nil {
			m.initForm()
			return m, textinput.Blink
		}

	case "d", "backspace":
		if m.currentTab == tabSites && m.sites != nil {
			if site, ok := m.selectedSite(); ok {
				v := m.sites
				return m, act(func() error { return v.DeleteSite(m.ctx, site.ID) })
			}
		}

	case "t":
		if site, ok := m.selectedSite(); ok && m.currentTab != tabLogs && m.currentView() != nil {
			v := m.currentView()
			return m, act(func() error {
				_, err := v.ToggleSite(m.ctx, site.ID)
				return err
			})
		}

	case "c", "enter":
		if site, ok := m.selectedSite(); ok && m.currentTab != tabLogs && m.currentView() != nil {
			v := m.currentView()
			return m, act(func() error { return v.CheckNow(m.ctx, site.ID) })
		}

	case "f":
		if m.currentTab == tabLogs && m.logs != nil {
			m.logFilter = (m.logFilter + 1) % len(logFilters)
			m.logs.SetLogQuery(m.logQuery())
			return m, refresh(m.ctx, m.logs)
		}
	}

	return m, nil
}

// activate opens the view behind tab and closes the on-demand view of the
// tab being left. The returned command reports the new view's first load.
func (m *Model) activate(tab int) tea.Cmd {
	m.closeScreens()

	var kind sitewatch.ViewKind
	switch tab {
	case tabSites:
		kind = sitewatch.ViewSites
	case tabLogs:
		kind = sitewatch.ViewLogs
	default:
		return nil
	}

	v, err := m.board.Open(m.ctx, kind)
	if err != nil {
		m.flash = fmt.Sprintf("Failed to open %s: %v", kind, err)
		m.flashErr = true
		return nil
	}

	if tab == tabSites {
		v.OnActionResult(m.forwardResult)
		m.sites = v
		return awaitLoad(v)
	}

	m.logs = v
	if q := m.logQuery(); q.Status != "" {
		// the timer's first load used the default query; the refresh
		// supersedes it
		v.SetLogQuery(q)
		return refresh(m.ctx, v)
	}
	return awaitLoad(v)
}

// closeScreens closes the sites and logs views.
func (m *Model) closeScreens() {
	for _, v := range []**sitewatch.View{&m.sites, &m.logs} {
		if *v != nil {
			(*v).Close()
			*v = nil
		}
	}
}

func (m Model) logQuery() api.LogQuery {
	var q api.LogQuery
	if f := logFilters[m.logFilter]; f != api.LogStatusAll {
		q.Status = f
	}
	return q
}

// awaitLoad waits for the first snapshot of v.
func awaitLoad(v *sitewatch.View) tea.Cmd {
	return func() tea.Msg {
		ch, stop := v.Updates()
		defer stop()
		if _, ok := v.State(); ok {
			return loadedMsg{}
		}
		select {
		case <-ch:
		case <-v.Done():
		}
		return loadedMsg{}
	}
}

// refresh runs one cycle of v off the UI goroutine.
func refresh(ctx context.Context, v *sitewatch.View) tea.Cmd {
	return func() tea.Msg {
		return refreshMsg{err: v.Refresh(ctx)}
	}
}

// act runs an action off the UI goroutine. Outcomes arrive through the
// view's result hook; only a rejected duplicate is reported here.
func act(fn func() error) tea.Cmd {
	return func() tea.Msg {
		err := fn()
		if errors.Is(err, sitewatch.ErrInProgress) {
			target, _, _ := strings.Cut(err.Error(), ": ")
			return busyMsg{target: target}
		}
		return nil
	}
}

func (m Model) currentView() *sitewatch.View {
	switch m.currentTab {
	case tabSites:
		return m.sites
	case tabLogs:
		return m.logs
	default:
		return m.dashboard
	}
}

// syncState copies the latest snapshot of every open view into the model.
func (m *Model) syncState() {
	if snap, ok := m.dashboard.State(); ok {
		m.dashSnap = snap
	}
	if snap, ok := m.status.State(); ok {
		m.statusSnap = snap
	}
	if m.sites != nil {
		if snap, ok := m.sites.State(); ok {
			m.sitesSnap = snap
		}
	}
	if m.logs != nil {
		if snap, ok := m.logs.State(); ok {
			m.logsSnap = snap
			m.logViewport.SetContent(renderLogs(snap.Logs))
		}
	}

	if n := len(m.visibleSites()); m.cursor >= n {
		m.cursor = max(n-1, 0)
		if m.tableOffset > m.cursor {
			m.tableOffset = m.cursor
		}
	}
}

func (m Model) visibleSites() []api.Site {
	if m.currentTab == tabSites {
		return m.sitesSnap.Sites
	}
	return m.dashSnap.Sites
}

func (m Model) selectedSite() (api.Site, bool) {
	sites := m.visibleSites()
	if m.cursor < 0 || m.cursor >= len(sites) {
		return api.Site{}, false
	}
	return sites[m.cursor], true
}

func (m *Model) initForm() {
	m.inputs = make([]textinput.Model, 2)
	m.inputs[0] = ti("My Website", 30)
	m.inputs[0].Focus()
	m.inputs[1] = ti("https://example.com", 40)
	m.focus = 0
	m.errorMsg = ""
	m.state = stateForm
}

func ti(ph string, width int) textinput.Model {
	t := textinput.New()
	t.Placeholder = ph
	t.Width = width
	return t
}

func (m Model) submitForm() tea.Cmd {
	name, url := m.inputs[0].Value(), m.inputs[1].Value()
	v := m.sites
	return func() tea.Msg {
		_, err := v.AddSite(m.ctx, name, url)
		return formMsg{err: err}
	}
}

func (m Model) View() string {
	if m.state == stateForm {
		return m.viewForm()
	}
	return m.viewBrowse()
}

func (m Model) viewForm() string {
	var content string
	if m.errorMsg != "" {
		content += dangerStyle.Render("Error: "+m.errorMsg) + "\n\n"
	}
	content += titleStyle.Render("Add Site") + "\n\n"
	content += "Name:\n" + m.inputs[0].View() + "\n\n"
	content += "URL:\n" + m.inputs[1].View() + "\n\n"
	if m.sites.Submitting(sitewatch.ActionCreate, 0) {
		content += subtleStyle.Render("Adding...") + "\n"
	}
	f := subtleStyle.Render("\n[Enter] Save  [Tab] Next field  [Esc] Cancel")
	return lipgloss.NewStyle().Padding(1, 2).Render(content + f)
}

func (m Model) viewBrowse() string {
	var renderedTabs []string
	for i, t := range tabNames {
		if i == m.currentTab {
			renderedTabs = append(renderedTabs, activeTab.Render(t))
		} else {
			renderedTabs = append(renderedTabs, inactiveTab.Render(t))
		}
	}
	tabs := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("sitewatch")+"  ",
		renderEngineStatus(m.statusSnap.Monitor, m.status.Err()),
	)

	content := ""
	var footer string

	switch m.currentTab {
	case tabDashboard:
		content += "\n" + renderStats(m.dashSnap.Stats) + "\n"
		content += m.viewSiteTable(m.dashboard, m.dashSnap.Sites)
		content += renderViewErr(m.dashboard.Err())
		footer = "[c/Enter] Check now  [t] Toggle  [r] Refresh  [Tab] Switch view  [q] Quit"

	case tabSites:
		content += m.viewSiteTable(m.sites, m.sitesSnap.Sites)
		content += renderViewErr(viewErr(m.sites))
		footer = "[n] New  [d] Delete  [t] Toggle  [c] Check now  [r] Refresh  [Tab] Switch view  [q] Quit"

	case tabLogs:
		content += fmt.Sprintf("\nFilter: %s   Showing %d of %d\n", logFilters[m.logFilter], len(m.logsSnap.Logs), m.logsSnap.LogTotal)
		content += "\n" + m.logViewport.View()
		content += renderViewErr(viewErr(m.logs))
		footer = "[f] Filter  [r] Refresh  [PgUp/PgDn] Scroll  [Tab] Switch view  [q] Quit"
	}

	if m.flash != "" {
		style := specialStyle
		if m.flashErr {
			style = dangerStyle
		}
		content += "\n" + style.Render(m.flash)
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(header + "\n" + tabs + "\n" + content + "\n" + subtleStyle.Render("\n"+footer))
}

func (m Model) viewSiteTable(v *sitewatch.View, sites []api.Site) string {
	headerStr := lipgloss.JoinHorizontal(lipgloss.Left,
		colID.Render("ID"), colName.Render("NAME"), colURL.Render("URL"),
		colStatus.Render("STATUS"), colCode.Render("CODE"), colUptime.Render("UPTIME"), "LAST CHECK")
	content := "\n " + headerStr + "\n"
	content += subtleStyle.Render(strings.Repeat("-", 110)) + "\n"

	if len(sites) == 0 {
		return content + "\n  No sites configured."
	}

	end := min(m.tableOffset+m.maxTableRows, len(sites))
	for i := m.tableOffset; i < end; i++ {
		checking := v != nil && v.Submitting(sitewatch.ActionCheck, sites[i].ID)
		row := renderSiteRow(sites[i], checking)
		if m.cursor == i {
			row = lipgloss.NewStyle().Bold(true).Render(">" + row)
		} else {
			row = " " + row
		}
		content += row + "\n"
	}
	return content
}

// siteStatusLabel is the status column text of a site.
func siteStatusLabel(site api.Site) (string, lipgloss.Style) {
	if !site.Active {
		return sitewatch.DisabledLabel, subtleStyle
	}
	switch sitewatch.SiteState(site) {
	case sitewatch.StateOnline:
		return "ONLINE", specialStyle
	case sitewatch.StateOffline:
		return "OFFLINE", dangerStyle
	default:
		return "PENDING", subtleStyle
	}
}

func bandStyle(b sitewatch.Band) lipgloss.Style {
	switch b {
	case sitewatch.BandGood:
		return specialStyle
	case sitewatch.BandWarning:
		return warnStyle
	default:
		return dangerStyle
	}
}

func renderSiteRow(site api.Site, checking bool) string {
	label, style := siteStatusLabel(site)
	if checking {
		label = "CHECKING"
		style = warnStyle
	}

	code := "-"
	if site.LastStatus != 0 {
		code = strconv.Itoa(site.LastStatus)
	}

	uptime := fmt.Sprintf("%.1f%%", site.Uptime)

	return lipgloss.JoinHorizontal(lipgloss.Left,
		colID.Render(strconv.FormatUint(uint64(site.ID), 10)),
		colName.Render(limitStr(site.Name, 16)),
		colURL.Render(limitStr(site.URL, 28)),
		colStatus.Render(style.Render(label)),
		colCode.Render(code),
		colUptime.Render(bandStyle(sitewatch.UptimeBand(site.Uptime)).Render(uptime)),
		sitewatch.LastCheckLabel(site.LastCheck, lastCheckLayout),
	)
}

func renderStats(stats *api.Stats) string {
	if stats == nil {
		return subtleStyle.Render("Loading...")
	}
	uptime := bandStyle(sitewatch.UptimeBand(stats.OverallUptime)).Render(fmt.Sprintf("%.1f%%", stats.OverallUptime))
	return fmt.Sprintf("Total %d   %s   %s   Uptime %s",
		stats.TotalSites,
		specialStyle.Render(fmt.Sprintf("Online %d", stats.OnlineSites)),
		dangerStyle.Render(fmt.Sprintf("Offline %d", stats.OfflineSites)),
		uptime,
	)
}

func renderEngineStatus(mon *api.MonitorStatus, err error) string {
	switch {
	case err != nil:
		return dangerStyle.Render("● engine unreachable")
	case mon == nil:
		return subtleStyle.Render("● engine unknown")
	case mon.Running:
		return specialStyle.Render("● engine running")
	default:
		return dangerStyle.Render("● engine stopped")
	}
}

func viewErr(v *sitewatch.View) error {
	if v == nil {
		return nil
	}
	return v.Err()
}

func renderViewErr(err error) string {
	if err == nil {
		return ""
	}
	return "\n" + warnStyle.Render("Last refresh failed: "+api.UserMessage(err, err.Error()))
}

func renderLogs(entries []api.LogEntry) string {
	if len(entries) == 0 {
		return "No log entries."
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var status string
		switch sitewatch.EntryState(e) {
		case sitewatch.StateOnline:
			status = specialStyle.Render(fmt.Sprintf("%-8s", "ONLINE"))
		case sitewatch.StateOffline:
			status = dangerStyle.Render(fmt.Sprintf("%-8s", "OFFLINE"))
		default:
			status = subtleStyle.Render(fmt.Sprintf("%-8s", "PENDING"))
		}

		code := "-"
		if e.StatusCode != 0 {
			code = strconv.Itoa(e.StatusCode)
		}

		line := fmt.Sprintf("%s  %s %-4s %5dms  %-16s %s",
			e.CheckedAt.Local().Format(time.DateTime), status, code, e.ResponseTimeMs,
			limitStr(e.Site.Name, 16), limitStr(e.Site.URL, 40))
		if e.ErrorMessage != "" {
			line += "  " + dangerStyle.Render(e.ErrorMessage)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// limitStr truncates text to max terminal cells on rune boundaries.
func limitStr(text string, max int) string {
	return runewidth.Truncate(text, max, "...")
}

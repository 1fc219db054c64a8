package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rajasaid/InsightOS/pkg/version"
)

// TUIRenderer draws an interactive progress panel with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ProgressTracker
	model   *indexModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a terminal")
	}
	tracker := NewProgressTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newIndexModel(tracker, cfg.Title, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)
	r.send(refreshMsg{})
}

func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(refreshMsg{})
}

func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop quits the program and waits briefly for the final frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

var _ Renderer = (*TUIRenderer)(nil)

type (
	refreshMsg  struct{}
	completeMsg CompletionStats
	tickMsg     time.Time
)

type indexModel struct {
	tracker  *ProgressTracker
	title    string
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	complete bool
	stats    CompletionStats
}

func newIndexModel(tracker *ProgressTracker, title string, styles Styles) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = styles.Active

	return &indexModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

func (m *indexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-24, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *indexModel) View() string {
	width := max(m.width-4, 40)
	if m.complete {
		return m.viewComplete(width)
	}

	st := m.tracker.Stats()
	sections := []string{
		m.viewStages(st.Stage),
		m.styles.Border.Render(strings.Repeat("─", width)),
		m.viewProgress(st),
		m.viewRate(st),
		m.styles.Sparkline.Render(m.tracker.Sparkline(width-12)) + " " + m.styles.Dim.Render("files/s"),
	}
	if st.CurrentFile != "" {
		sections = append(sections, m.styles.Dim.Render(truncatePath(st.CurrentFile, width-2)))
	}

	title := version.Name
	if m.title != "" {
		title += " • " + m.title
	}
	panel := m.styles.Panel.Width(width).Render(strings.Join(sections, "\n"))
	return m.styles.Header.Render(title) + "\n" + panel + "\n" + m.viewIssues(st) + "\n"
}

func (m *indexModel) viewStages(current Stage) string {
	var parts []string
	for _, s := range []Stage{StageDiscovering, StageIndexing} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexModel) viewProgress(st ProgressStats) string {
	if st.Total == 0 {
		return m.spinner.View() + " " + m.styles.Label.Render("looking for changed files...")
	}
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", st.Fraction*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d files", st.Current, st.Total))
	return m.bar.ViewAs(st.Fraction) + "  " + pct + "\n" + count
}

func (m *indexModel) viewRate(st ProgressStats) string {
	rate := fmt.Sprintf("Rate: %.1f files/s", st.Rate.Current)
	if st.Rate.Avg > 0 {
		rate += fmt.Sprintf(" (avg %.1f, peak %.1f)", st.Rate.Avg, st.Rate.Peak)
	}
	out := m.styles.Speed.Render(rate)
	if st.ETA > 0 {
		out += m.styles.Dim.Render("  •  ") + m.styles.Label.Render("ETA "+FormatDuration(st.ETA))
	}
	return out
}

func (m *indexModel) viewIssues(st ProgressStats) string {
	var parts []string
	if st.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", st.Errors)))
	}
	if st.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", st.Warnings)))
	}
	parts = append(parts, m.styles.Dim.Render("ctrl+c to cancel"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *indexModel) viewComplete(width int) string {
	s := m.stats
	label := func(l string) string { return m.styles.Label.Render(fmt.Sprintf("%-10s", l)) }
	value := func(format string, a ...any) string { return m.styles.Active.Render(fmt.Sprintf(format, a...)) }

	header := m.styles.Success.Render("✓ Index up to date")
	if s.Cancelled > 0 {
		header = m.styles.Warning.Render("⚠ Indexing cancelled")
	}
	lines := []string{
		header,
		"",
		label("Indexed") + value("%d files, %d chunks", s.Indexed, s.Chunks),
		label("Unchanged") + value("%d", s.Skipped),
		label("Removed") + value("%d", s.Deleted),
		label("Read") + value("%s", FormatBytes(s.Bytes)),
		label("Duration") + value("%s", FormatDuration(s.Duration)),
	}
	if s.Embedder.Model != "" {
		lines = append(lines, label("Embedder")+value("%s (%d dims)", s.Embedder.Model, s.Embedder.Dimensions))
	}
	if s.Failed > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d files failed", s.Failed)))
		for _, e := range m.tracker.Errors() {
			lines = append(lines, m.styles.Dim.Render("  "+truncatePath(e.File, width-6)))
		}
	}
	if s.Cancelled > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d files not processed", s.Cancelled)))
	}

	return m.styles.Panel.Width(width).Padding(1, 2).Render(strings.Join(lines, "\n")) + "\n"
}

// FormatDuration renders d as "42s", "3m 5s" or "1h 20m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath shortens path to at most n bytes, keeping the file name.
func truncatePath(path string, n int) string {
	if len(path) <= n {
		return path
	}
	if n < 4 {
		return "..."
	}
	name := filepath.Base(path)
	if len(name)+4 > n {
		return "..." + name[len(name)-(n-3):]
	}
	dir := filepath.Dir(path)
	keep := n - len(name) - 4
	return "..." + dir[len(dir)-keep:] + string(filepath.Separator) + name
}

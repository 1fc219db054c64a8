package ui

import "github.com/charmbracelet/lipgloss"

// Palette, as 256-color codes.
const (
	ColorAccent  = "39"  // blue
	ColorMuted   = "245" // labels
	ColorFaint   = "238" // borders
	ColorSuccess = "42"
	ColorWarning = "214"
	ColorError   = "196"
)

// Styles holds the lipgloss styles used by the renderers.
type Styles struct {
	Header    lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
	Active    lipgloss.Style
	Label     lipgloss.Style
	Speed     lipgloss.Style
	Sparkline lipgloss.Style
	Border    lipgloss.Style
	Panel     lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorFaint)),
		Active:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorMuted)),
		Speed:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorMuted)),
		Sparkline: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Border:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorFaint)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorFaint)).
			Padding(0, 1),
	}
}

// NoColorStyles keeps layout (borders, padding) but drops color and
// emphasis.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:    plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
		Dim:       plain,
		Active:    plain,
		Label:     plain,
		Speed:     plain,
		Sparkline: plain,
		Border:    plain,
		Panel:     lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}

func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}

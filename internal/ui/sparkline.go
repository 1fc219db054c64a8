package ui

import "strings"

// sparkChars are eight bar heights, lowest first.
var sparkChars = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps the last width samples and renders them as bars scaled
// to the largest sample in view. It is not safe for concurrent use.
type Sparkline struct {
	samples []float64
	next    int
	filled  bool
}

// NewSparkline returns a sparkline of the given width; 0 selects 60.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.samples[s.next] = v
	s.next = (s.next + 1) % len(s.samples)
	if s.next == 0 {
		s.filled = true
	}
}

// Values returns the samples oldest first.
func (s *Sparkline) Values() []float64 {
	if !s.filled {
		return append([]float64(nil), s.samples[:s.next]...)
	}
	out := append([]float64(nil), s.samples[s.next:]...)
	return append(out, s.samples[:s.next]...)
}

func (s *Sparkline) Clear() {
	clear(s.samples)
	s.next, s.filled = 0, false
}

// Render draws the most recent width samples, right-aligned and padded
// with spaces. width <= 0 uses the full capacity.
func (s *Sparkline) Render(width int) string {
	if width <= 0 || width > len(s.samples) {
		width = len(s.samples)
	}
	vals := s.Values()
	if len(vals) > width {
		vals = vals[len(vals)-width:]
	}

	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(vals)))
	top := len(sparkChars) - 1
	for _, v := range vals {
		i := 0
		if peak > 0 {
			i = min(int(v/peak*float64(top)+0.5), top)
		}
		sb.WriteRune(sparkChars[i])
	}
	return sb.String()
}

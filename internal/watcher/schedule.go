package watcher

import (
	"strings"
	"time"

	"github.com/gorhill/cronexpr"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Schedule is a cron expression driving periodic rescans.
type Schedule struct {
	spec string
	expr *cronexpr.Expression
}

// ParseSchedule parses a cron expression. An empty spec returns a nil
// Schedule, meaning no periodic rescans.
func ParseSchedule(spec string) (*Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, "invalid rescan schedule", err).
			WithDetail("schedule", spec).
			WithSuggestion("Use a cron expression such as \"*/30 * * * *\"")
	}
	return &Schedule{spec: spec, expr: expr}, nil
}

// Next returns the first activation strictly after from, or the zero time
// if the expression never fires again.
func (s *Schedule) Next(from time.Time) time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.expr.Next(from)
}

// Until returns the wait from now to the next activation, and false when
// there is none.
func (s *Schedule) Until(now time.Time) (time.Duration, bool) {
	next := s.Next(now)
	if next.IsZero() {
		return 0, false
	}
	return next.Sub(now), true
}

func (s *Schedule) String() string {
	if s == nil {
		return ""
	}
	return s.spec
}

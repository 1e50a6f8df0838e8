package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"supportchat/internal/models"
)

// Window is a single daily operating window in one time zone. Close must be
// after Open; windows do not wrap past midnight.
type Window struct {
	Open     time.Duration
	Close    time.Duration
	Location *time.Location
}

// ParseWindow builds a Window from "HH:MM" bounds and an IANA zone name
func ParseWindow(opens, closes, timezone string) (Window, error) {
	openAt, err := parseClock(opens)
	if err != nil {
		return Window{}, models.ConfigError{Message: fmt.Sprintf("invalid open time %q: %v", opens, err)}
	}
	closeAt, err := parseClock(closes)
	if err != nil {
		return Window{}, models.ConfigError{Message: fmt.Sprintf("invalid close time %q: %v", closes, err)}
	}
	if closeAt <= openAt {
		return Window{}, models.ConfigError{Message: fmt.Sprintf("close time %s must be after open time %s", closes, opens)}
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Window{}, models.ConfigError{Message: fmt.Sprintf("unknown timezone %q", timezone)}
	}

	return Window{Open: openAt, Close: closeAt, Location: loc}, nil
}

func parseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("want HH:MM")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("hour out of range")
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("minute out of range")
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Contains reports whether t falls in [Open, Close) on its local day
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return sinceMidnight >= w.Open && sinceMidnight < w.Close
}

// String renders the window as "HH:MM-HH:MM Zone"
func (w Window) String() string {
	name := "UTC"
	if w.Location != nil {
		name = w.Location.String()
	}
	return fmt.Sprintf("%s-%s %s", formatClock(w.Open), formatClock(w.Close), name)
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

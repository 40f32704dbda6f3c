package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"whatsapp-campaigns/internal/apperrors"
)

// SendWindow is a daily local-time interval during which a queue may send.
// Start equal to End means always open; Start after End spans midnight.
type SendWindow struct {
	Start    int // minutes after local midnight
	End      int
	Location *time.Location
}

// ParseWindow reads "HH:MM" bounds and an IANA zone name.
func ParseWindow(start, end, tz string) (SendWindow, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		return SendWindow{}, apperrors.NewValidation("timezone", "unknown timezone %q", tz)
	}
	s, err := parseClock(start)
	if err != nil {
		return SendWindow{}, apperrors.NewValidation("start_time", "%v", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return SendWindow{}, apperrors.NewValidation("end_time", "%v", err)
	}
	return SendWindow{Start: s, End: e, Location: loc}, nil
}

func parseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has an invalid hour", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q has invalid minutes", v)
	}
	return h*60 + m, nil
}

func (w SendWindow) minuteOfDay(t time.Time) int {
	local := t.In(w.Location)
	return local.Hour()*60 + local.Minute()
}

// Open reports whether t falls inside the window.
func (w SendWindow) Open(t time.Time) bool {
	m := w.minuteOfDay(t)
	switch {
	case w.Start == w.End:
		return true
	case w.Start < w.End:
		return m >= w.Start && m < w.End
	default:
		return m >= w.Start || m < w.End
	}
}

// NextOpen returns t if the window is open, otherwise the next local start.
func (w SendWindow) NextOpen(t time.Time) time.Time {
	if w.Open(t) {
		return t
	}
	local := t.In(w.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), w.Start/60, w.Start%60, 0, 0, w.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, w.Start/60, w.Start%60, 0, 0, w.Location)
	}
	return next.UTC()
}

package schedule

import "fmt"

// FormatClock renders a remaining-seconds count as mm:ss, used by the two
// hourly kinds. Minutes are not capped at 59 so a freshly armed chobos timer
// an hour out renders as 60:00 rather than wrapping.
func FormatClock(remaining int64) string {
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("%02d:%02d", remaining/60, remaining%60)
}

// FormatLong renders a remaining-seconds count as "Dd Hh Mm Ss", used by the
// weekly kind.
func FormatLong(remaining int64) string {
	if remaining < 0 {
		remaining = 0
	}
	d := remaining / 86400
	h := (remaining % 86400) / 3600
	m := (remaining % 3600) / 60
	s := remaining % 60
	return fmt.Sprintf("%dd %dh %dm %ds", d, h, m, s)
}

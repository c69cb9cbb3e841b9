package printer

import (
	"fmt"
	"time"
)

// The control server mixes zoned timestamps with naive local ones.
var serverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseServerTime parses a timestamp as sent by the control server. Naive
// timestamps are interpreted as UTC.
func parseServerTime(s string) (time.Time, bool) {
	for _, layout := range serverTimeLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// since renders the elapsed time from ts to now in a compact form ("42s ago", "3h ago").
func since(now, ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}

	d := now.Sub(ts)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// bytesText renders a script file size.
func bytesText(n int64) string {
	const unit = 1024
	if n < unit {
		if n < 0 {
			n = 0
		}
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

// runDuration renders how long an execution took. Unfinished runs render as a dash.
func runDuration(started, finished time.Time) string {
	if started.IsZero() || finished.IsZero() || finished.Before(started) {
		return "-"
	}

	d := finished.Sub(started)
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

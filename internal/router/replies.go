package router

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	listPreviewLength = 30
	viewTimeLayout    = "Jan 02, 2006, 03:04 PM"
)

// TimeAgo renders t relative to now: "just now", "5m ago", "3h ago", "2d ago",
// or the date ("Jan 02") once a week has passed.
func TimeAgo(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return t.UTC().Format("Jan 02")
	}
}

// truncate flattens whitespace and cuts s to n characters, ending in "...".
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

// formatRemaining renders a positive duration as "3d 4h", "5h 10m" or "12m".
func formatRemaining(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "under a minute"
	}
}

// SplitReply breaks text into parts of at most limit characters. Lines are
// kept whole where possible; a line longer than limit is wrapped, at a space
// when one is close enough to the cut.
func SplitReply(text string, limit int) []string {
	text = strings.TrimRight(text, "\n ")
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if s := strings.TrimRight(cur.String(), "\n "); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		for _, piece := range wrapLine(line, limit) {
			n := utf8.RuneCountInString(piece)
			if curLen > 0 && curLen+1+n > limit {
				flush()
			}
			if curLen == 0 && piece == "" {
				continue
			}
			if curLen > 0 {
				cur.WriteByte('\n')
				curLen++
			}
			cur.WriteString(piece)
			curLen += n
		}
	}
	flush()
	return parts
}

func wrapLine(line string, limit int) []string {
	runes := []rune(line)
	if len(runes) <= limit {
		return []string{line}
	}

	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " "))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

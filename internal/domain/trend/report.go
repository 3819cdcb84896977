// internal/domain/trend/report.go

package trend

import (
	"fmt"
	"strings"
)

// RenderReport renders an analysis as a plain-text report for logs and
// operator inspection.
func RenderReport(a Analysis) string {
	var b strings.Builder
	line := strings.Repeat("=", 50)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "TREND WATCH REPORT")
	fmt.Fprintf(&b, "Generated: %s\n", a.AnalyzedAt.Format("2006-01-02 15:04"))
	fmt.Fprintln(&b, line)

	fmt.Fprintf(&b, "\nTracked videos: %d\n", a.TotalAnalyzed)
	fmt.Fprintf(&b, "Average velocity: %.1f views/hour\n", a.AvgVelocity)

	if len(a.Rising) > 0 {
		fmt.Fprintln(&b, "\n--- RISING VIDEOS ---")
		for _, it := range capItems(a.Rising, 5) {
			fmt.Fprintf(&b, "  %s\n", truncate(it.Snapshot.Title, 40))
			fmt.Fprintf(&b, "    Velocity: %.1f/h | Acceleration: %.2fx\n",
				it.Velocity.ViewsPerHour, it.Velocity.Acceleration)
		}
	}

	if len(a.Trends) > 0 {
		fmt.Fprintln(&b, "\n--- POTENTIAL TRENDS ---")
		for i, t := range a.Trends {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "  %s (%s)\n", t.Key, t.Type)
			fmt.Fprintf(&b, "    %d videos | Avg velocity: %.1f/h | Score: %.1f\n",
				t.MemberCount, t.AvgVelocity, t.Score)
		}
	}

	if len(a.SmallAccountGems) > 0 {
		fmt.Fprintln(&b, "\n--- SMALL ACCOUNT GEMS ---")
		for _, it := range capItems(a.SmallAccountGems, 3) {
			fmt.Fprintf(&b, "  %s\n", truncate(it.Snapshot.Title, 40))
			fmt.Fprintf(&b, "    Acceleration: %.2fx | Views: %d\n",
				it.Velocity.Acceleration, it.Snapshot.Views)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", line)
	return b.String()
}

func capItems(items []Item, n int) []Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

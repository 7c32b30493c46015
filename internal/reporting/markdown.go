package reporting

import (
	"fmt"
	"strings"
)

// Markdown renders the human-readable form of a report.
func Markdown(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "**Generated:** %s  \n**Report ID:** %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"), r.ID)

	lt := r.LoadTest
	b.WriteString("## Load Test Results\n\n### Key Metrics\n")
	fmt.Fprintf(&b, "- **Maximum Users Tested:** %d\n", lt.MaxUsersTested)
	fmt.Fprintf(&b, "- **Peak Throughput:** %.1f req/s\n", lt.PeakThroughput)
	fmt.Fprintf(&b, "- **Peak Goodput:** %.1f req/s\n", lt.PeakGoodput)
	fmt.Fprintf(&b, "- **Best Success Rate:** %.1f%%\n\n", lt.BestSuccessRate)

	if bp := lt.Bottleneck; bp != nil {
		b.WriteString("### Bottleneck Analysis\n")
		fmt.Fprintf(&b, "- **Bottleneck occurs at:** %d users\n", bp.Users)
		fmt.Fprintf(&b, "- **Response time at bottleneck:** %.3fs\n", bp.AvgResponseTime)
		fmt.Fprintf(&b, "- **Throughput at bottleneck:** %.1f req/s\n\n", bp.Throughput)
	}

	b.WriteString("| Users | Throughput (req/s) | Goodput (req/s) | Avg (s) | P95 (s) | Success |\n")
	b.WriteString("|---:|---:|---:|---:|---:|---:|\n")
	for _, l := range lt.Levels {
		fmt.Fprintf(&b, "| %d | %.1f | %.1f | %.3f | %.3f | %.1f%% |\n",
			l.Users, l.Throughput, l.Goodput, l.AvgResponseTime, l.P95ResponseTime, l.SuccessRate)
	}
	b.WriteString("\n")

	if a := lt.Analysis; a != nil && len(a.Bottlenecks) > 0 {
		b.WriteString("### Findings\n\n```\n")
		b.WriteString(a.GenerateReport())
		b.WriteString("```\n\n")
	}

	if c := r.Capacity; c != nil {
		b.WriteString("## Capacity Model\n\n")
		fmt.Fprintf(&b, "Model: %s\n\n", c.Model)
		fmt.Fprintf(&b, "- **Service Rate:** %.1f req/s\n", c.ServiceRate)
		fmt.Fprintf(&b, "- **Database Service Rate:** %.1f req/s\n", c.DBServiceRate)
		fmt.Fprintf(&b, "- **Optimal Users:** %d\n", c.OptimalUsers)
		fmt.Fprintf(&b, "- **Max Stable Throughput:** %.1f req/s\n\n", c.MaxStableThroughput)
	}

	if v := r.Validation; v != nil {
		b.WriteString("### Model vs. Measurement\n")
		degraded := "none in tested range"
		if v.MeasuredDegradationUsers > 0 {
			degraded = fmt.Sprintf("%d users", v.MeasuredDegradationUsers)
		}
		agreement := fmt.Sprintf("%t", v.Agrees)
		if !v.Validated {
			agreement = fmt.Sprintf("not validated (sweep stopped at %d users)", v.MaxUsersTested)
		}
		fmt.Fprintf(&b, "- Predicted optimum: %d users\n- Measured degradation: %s\n- Agreement: %s\n\n",
			v.PredictedOptimalUsers, degraded, agreement)
	}

	if len(r.Cache) > 0 {
		b.WriteString("## Cache\n\n| Region | Items | Capacity | Hit rate | Evictions | Expirations |\n|---|---:|---:|---:|---:|---:|\n")
		for _, s := range r.Cache {
			fmt.Fprintf(&b, "| %s | %d | %d | %.1f%% | %d | %d |\n",
				s.Region, s.Items, s.Capacity, s.HitRate()*100, s.Evictions, s.Expirations)
		}
		b.WriteString("\n")
	}

	if p := r.Pool; p != nil {
		b.WriteString("## Connection Pool\n\n")
		fmt.Fprintf(&b, "- Capacity: %d\n- Acquired: %d\n- Timeouts: %d\n- Average wait: %s\n\n",
			p.Capacity, p.TotalAcquired, p.TotalTimeouts, p.AvgWaitDuration)
	}

	b.WriteString("## Recommendations\n\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}

	return b.String()
}

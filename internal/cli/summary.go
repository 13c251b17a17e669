package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

// renderReport prints one line per proxy and bundle followed by a summary
// line. Colors follow the writer's capabilities.
func renderReport(out io.Writer, report unifier.Report) {
	r := lipgloss.NewRenderer(out)
	var (
		ok     = r.NewStyle().Foreground(lipgloss.Color("#3FB950")).Bold(true)
		bad    = r.NewStyle().Foreground(lipgloss.Color("#F85149")).Bold(true)
		warn   = r.NewStyle().Foreground(lipgloss.Color("#D29922"))
		muted  = r.NewStyle().Foreground(lipgloss.Color("#8B949E"))
		header = r.NewStyle().Bold(true)
	)

	for _, run := range report.Runs {
		status := ok.Render("OK")
		if run.Failed() {
			status = bad.Render("FAIL")
		}
		name := run.Proxy
		if run.ProxyName != "" && run.ProxyName != run.Proxy {
			name += muted.Render(" (" + run.ProxyName + ")")
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", status, header.Render(name))
		if run.Error != "" {
			_, _ = fmt.Fprintf(out, "  %s\n", bad.Render(run.Error))
		}
		for _, b := range run.Bundles {
			archive := b.Archive
			if archive == "" {
				archive = bad.Render("not written")
			}
			_, _ = fmt.Fprintf(out, "  %s endpoints=%s policies=%d targets=%d %s\n",
				b.Name,
				strings.Join(b.ProxyEndpoints, ","),
				len(b.Policies),
				len(b.TargetEndpoints),
				muted.Render(archive),
			)
		}
		for _, o := range run.Outcomes {
			if o.Status == unifier.StatusOK {
				continue
			}
			_, _ = fmt.Fprintf(out, "  %s %s/%s: %s\n", warn.Render(string(o.Status)), o.Stage, o.Item, o.Reason)
		}
	}
	_, _ = fmt.Fprintf(out, "unify summary: total=%d success=%d failed=%d bundles=%d\n",
		report.Total, report.Succeeded, report.Failed, len(report.Bundles()))
}

package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Markdown renders the digest as the experiment report document. Rows are
// sorted by address so regeneration is diff-stable.
func (d *Digest) Markdown() string {
	var b strings.Builder

	b.WriteString("# Honeypot Experiment Report\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", d.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Total Events:** %d\n\n", d.TotalEvents)

	b.WriteString("## 1. Dwell Time Analysis\n")
	b.WriteString("| IP | Sessions | Avg Duration (s) | Max Duration (s) |\n")
	b.WriteString("|---|---|---|---|\n")
	dwellAddrs := make([]string, 0, len(d.DwellTime))
	for ip := range d.DwellTime {
		dwellAddrs = append(dwellAddrs, ip)
	}
	sort.Strings(dwellAddrs)
	for _, ip := range dwellAddrs {
		s := d.DwellTime[ip]
		fmt.Fprintf(&b, "| %s | %d | %.2f | %.2f |\n", ip, s.Sessions, s.Avg, s.Max)
	}

	b.WriteString("\n## 2. Deception Efficiency (Interaction Depth)\n")
	b.WriteString("| IP | Commands Executed |\n")
	b.WriteString("|---|---|\n")
	cmdAddrs := make([]string, 0, len(d.DeceptionEfficiency))
	for ip := range d.DeceptionEfficiency {
		cmdAddrs = append(cmdAddrs, ip)
	}
	sort.Strings(cmdAddrs)
	for _, ip := range cmdAddrs {
		fmt.Fprintf(&b, "| %s | %d |\n", ip, d.DeceptionEfficiency[ip])
	}

	b.WriteString("\n## 3. Blocking Efficiency\n")
	b.WriteString("| IP | Time to Block (s) |\n")
	b.WriteString("|---|---|\n")
	blockAddrs := make([]string, 0, len(d.BlockingEfficiency))
	for ip := range d.BlockingEfficiency {
		blockAddrs = append(blockAddrs, ip)
	}
	sort.Strings(blockAddrs)
	for _, ip := range blockAddrs {
		fmt.Fprintf(&b, "| %s | %.2f |\n", ip, d.BlockingEfficiency[ip])
	}

	b.WriteString("\n## 4. Attack Classification\n")
	b.WriteString("| IP | Risk Score | Patterns |\n")
	b.WriteString("|---|---|---|\n")
	classAddrs := make([]string, 0, len(d.AttackClassification))
	for ip := range d.AttackClassification {
		classAddrs = append(classAddrs, ip)
	}
	sort.Strings(classAddrs)
	for _, ip := range classAddrs {
		c := d.AttackClassification[ip]
		fmt.Fprintf(&b, "| %s | %d | %s |\n", ip, c.RiskScore, strings.Join(c.Patterns, ", "))
	}

	return b.String()
}

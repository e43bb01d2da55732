// Package report derives the experiment digest from the event log: dwell
// time, interaction depth, time to block, behavioral classification and a
// mock geographic spread. The digest is regenerable; nothing in it is
// hand-maintained state.
package report

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/voslund/decoynet/pkg/analyzer"
	"github.com/voslund/decoynet/pkg/telemetry"
)

// DwellStats summarizes session durations for one address.
type DwellStats struct {
	Sessions int     `json:"sessions"`
	Avg      float64 `json:"avg"`
	Max      float64 `json:"max"`
}

// Classification carries the analyzer outcome for one address.
type Classification struct {
	Patterns  []string `json:"patterns"`
	RiskScore int      `json:"risk_score"`
}

type Digest struct {
	GeneratedAt            time.Time                 `json:"generated_at"`
	TotalEvents            int                       `json:"total_events"`
	DwellTime              map[string]DwellStats     `json:"dwell_time"`
	AttackClassification   map[string]Classification `json:"attack_classification"`
	BlockingEfficiency     map[string]float64        `json:"blocking_efficiency"`
	DeceptionEfficiency    map[string]int            `json:"deception_efficiency"`
	GeographicDistribution map[string]int            `json:"geographic_distribution"`
}

// Build computes the digest from events in any order.
func Build(cfg analyzer.Config, events []telemetry.Event) *Digest {
	sorted := make([]telemetry.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	return &Digest{
		GeneratedAt:            time.Now().UTC(),
		TotalEvents:            len(events),
		DwellTime:              dwellTime(sorted),
		AttackClassification:   classify(cfg, sorted),
		BlockingEfficiency:     blockingEfficiency(sorted),
		DeceptionEfficiency:    deceptionEfficiency(sorted),
		GeographicDistribution: geographicDistribution(sorted),
	}
}

// dwellTime pairs each admission with its session end and aggregates the
// durations per address. Sessions are matched by session ID; events
// predating session IDs fall back to address pairing.
func dwellTime(sorted []telemetry.Event) map[string]DwellStats {
	type open struct {
		addr  string
		start time.Time
	}
	active := make(map[string]open)
	durations := make(map[string][]float64)

	for _, e := range sorted {
		key := e.SessionID
		if key == "" {
			key = e.SourceIP
		}
		switch e.Kind {
		case telemetry.KindLoginSuccess:
			active[key] = open{addr: e.SourceIP, start: e.Timestamp}
		case telemetry.KindSessionEnd:
			o, ok := active[key]
			if !ok {
				continue
			}
			delete(active, key)
			durations[o.addr] = append(durations[o.addr], e.Timestamp.Sub(o.start).Seconds())
		}
	}

	stats := make(map[string]DwellStats, len(durations))
	for addr, ds := range durations {
		var sum, max float64
		for _, d := range ds {
			sum += d
			if d > max {
				max = d
			}
		}
		stats[addr] = DwellStats{
			Sessions: len(ds),
			Avg:      round2(sum / float64(len(ds))),
			Max:      round2(max),
		}
	}
	return stats
}

func classify(cfg analyzer.Config, sorted []telemetry.Event) map[string]Classification {
	out := make(map[string]Classification)
	for addr, events := range analyzer.GroupBySource(sorted) {
		profile := analyzer.Analyze(cfg, events)
		if profile == nil {
			continue
		}
		out[addr] = Classification{
			Patterns:  profile.Patterns,
			RiskScore: profile.RiskScore,
		}
	}
	return out
}

// blockingEfficiency measures seconds from an address's first event to
// its first BLOCK.
func blockingEfficiency(sorted []telemetry.Event) map[string]float64 {
	firstSeen := make(map[string]time.Time)
	out := make(map[string]float64)

	for _, e := range sorted {
		if e.SourceIP == "" {
			continue
		}
		if _, ok := firstSeen[e.SourceIP]; !ok {
			firstSeen[e.SourceIP] = e.Timestamp
		}
		if e.Kind == telemetry.KindBlock {
			if _, ok := out[e.SourceIP]; !ok {
				out[e.SourceIP] = round2(e.Timestamp.Sub(firstSeen[e.SourceIP]).Seconds())
			}
		}
	}
	return out
}

func deceptionEfficiency(sorted []telemetry.Event) map[string]int {
	counts := make(map[string]int)
	for _, e := range sorted {
		if e.Kind == telemetry.KindCommand && e.SourceIP != "" {
			counts[e.SourceIP]++
		}
	}
	return counts
}

func geographicDistribution(sorted []telemetry.Event) map[string]int {
	seen := make(map[string]bool)
	out := make(map[string]int)
	for _, e := range sorted {
		if e.SourceIP == "" || seen[e.SourceIP] {
			continue
		}
		seen[e.SourceIP] = true
		out[Region(e.SourceIP)]++
	}
	return out
}

// Region maps an address to a coarse mock region. Stands in for a real
// GeoIP database, which edge nodes do not carry.
func Region(ip string) string {
	switch {
	case strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "127."):
		return "Local Network"
	case strings.HasPrefix(ip, "10."):
		return "Internal VPN"
	case strings.HasPrefix(ip, "1."):
		return "North America (Mock)"
	case strings.HasPrefix(ip, "2."):
		return "Europe (Mock)"
	default:
		return "Unknown"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package controlplane

import (
	"strings"
	"time"

	"github.com/voslund/decoynet/pkg/telemetry"
)

// Geolocation is the mock origin attached to feed entries. Edge nodes do
// not carry a GeoIP database; distinct regions are simulated from address
// prefixes so dashboards have something to plot.
type Geolocation struct {
	Country string `json:"country"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// FeedEntry is one row of the intelligence feed shown on dashboards.
type FeedEntry struct {
	Timestamp   time.Time   `json:"timestamp"`
	AttackerIP  string      `json:"attacker_ip"`
	Geolocation Geolocation `json:"geolocation"`
	Command     string      `json:"command"`
	Decision    string      `json:"ai_decision"`
	Reason      string      `json:"ai_justification"`
	RiskScore   int         `json:"risk_score"`
	Latency     float64     `json:"latency"`
	Summary     string      `json:"summary"`
}

var geoTable = []struct {
	prefix string
	geo    Geolocation
}{
	{"89.", Geolocation{"Netherlands", "Amsterdam", "KPN"}},
	{"185.", Geolocation{"Russia", "Moscow", "Rostelecom"}},
	{"114.", Geolocation{"China", "Nanjing", "China Telecom"}},
	{"177.", Geolocation{"Brazil", "Sao Paulo", "Vivo"}},
	{"54.", Geolocation{"USA", "Ashburn", "Amazon AWS"}},
	{"192.168.", Geolocation{"Germany", "Frankfurt", "Local Testnet Node"}},
	{"80.", Geolocation{"UK", "London", "BT"}},
	{"118.", Geolocation{"South Korea", "Seoul", "KT"}},
	{"104.", Geolocation{"South Africa", "Cape Town", "Vodacom"}},
	{"13.", Geolocation{"India", "Mumbai", "Jio"}},
	{"82.", Geolocation{"Romania", "Bucharest", "Orange"}},
}

func locate(ip string) Geolocation {
	for _, row := range geoTable {
		if strings.HasPrefix(ip, row.prefix) {
			return row.geo
		}
	}
	return Geolocation{"Unknown", "Unknown", "Unknown"}
}

// isFeedNoise filters commands that carry no intelligence value.
func isFeedNoise(command string) bool {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "", "exit", "logout":
		return true
	}
	return false
}

func commandSummary(command string) string {
	command = strings.TrimSpace(command)
	if len(command) > 30 {
		return "Attacker executed: " + command[:30] + "..."
	}
	return "Attacker executed: " + command
}

// sessionEndFeedEntry translates a session-end event into a feed row.
func sessionEndFeedEntry(e telemetry.Event) FeedEntry {
	reason := e.Details[telemetry.DetailReason]
	if reason == "" {
		reason = "disconnect"
	}
	justification := "Session ended: " + reason
	if d := e.Details[telemetry.DetailDuration]; d != "" {
		justification += " after " + d + "s"
	}
	if c := e.Details[telemetry.DetailCommandCount]; c != "" {
		justification += ", " + c + " commands"
	}

	return FeedEntry{
		Timestamp:   e.Timestamp,
		AttackerIP:  e.SourceIP,
		Geolocation: locate(e.SourceIP),
		Command:     "CONNECTION TERMINATED",
		Decision:    "DISCONNECT",
		Reason:      justification,
		Summary:     "Attacker disconnected. " + justification,
	}
}

package sdk

import "time"

// Geolocation is the origin the control plane attaches to feed rows.
type Geolocation struct {
	Country string `json:"country"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// FeedEntry is one row of the control plane's intelligence feed.
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

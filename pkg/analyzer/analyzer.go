// Package analyzer derives per-address behavior profiles from the event
// log. Scoring is pure: the same events and config always produce the
// same profile.
package analyzer

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/voslund/decoynet/pkg/telemetry"
)

// Pattern names emitted in profiles.
const (
	PatternHighVelocity       = "high_velocity"
	PatternAdminTargeting     = "admin_targeting"
	PatternCredentialStuffing = "credential_stuffing"
	PatternBruteForce         = "brute_force"
)

// Config holds the scoring weights and detector thresholds.
type Config struct {
	BasePerAttempt           int     `json:"base_per_attempt"`
	HighVelocityPerMinute    float64 `json:"high_velocity_per_minute"`
	HighVelocityWeight       int     `json:"high_velocity_weight"`
	AdminTargetingWeight     int     `json:"admin_targeting_weight"`
	CredentialStuffingWeight int     `json:"credential_stuffing_weight"`
	BruteForceWeight         int     `json:"brute_force_weight"`
	RiskScoreCap             int     `json:"risk_score_cap"`
}

// DefaultConfig returns the standard scoring weights.
func DefaultConfig() Config {
	return Config{
		BasePerAttempt:           1,
		HighVelocityPerMinute:    5,
		HighVelocityWeight:       20,
		AdminTargetingWeight:     30,
		CredentialStuffingWeight: 25,
		BruteForceWeight:         20,
		RiskScoreCap:             100,
	}
}

// adminUsernames are accounts whose targeting signals intent rather than
// random scanning.
var adminUsernames = map[string]bool{
	"root":          true,
	"admin":         true,
	"administrator": true,
	"sysadmin":      true,
}

// Profile summarizes one address's observed behavior.
type Profile struct {
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	Duration        float64        `json:"duration"`
	TotalAttempts   int            `json:"total_attempts"`
	UniqueUsernames []string       `json:"unique_usernames"`
	UniquePasswords []string       `json:"unique_passwords"`
	Patterns        []string       `json:"patterns"`
	RiskScore       int            `json:"risk_score"`
	ScoreDetails    map[string]int `json:"score_details"`
}

// GroupBySource buckets events by source address, preserving order.
func GroupBySource(events []telemetry.Event) map[string][]telemetry.Event {
	grouped := make(map[string][]telemetry.Event)
	for _, ev := range events {
		if ev.SourceIP == "" {
			continue
		}
		grouped[ev.SourceIP] = append(grouped[ev.SourceIP], ev)
	}
	return grouped
}

// Analyze computes the profile for one address's events. Returns nil when
// there is nothing to analyze.
func Analyze(cfg Config, events []telemetry.Event) *Profile {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]telemetry.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	first := sorted[0].Timestamp
	last := sorted[len(sorted)-1].Timestamp
	duration := last.Sub(first).Seconds()

	usernames := make(map[string]bool)
	passwords := make(map[string]bool)
	totalAttempts := 0
	for _, ev := range sorted {
		if ev.Username != "" {
			usernames[ev.Username] = true
		}
		if ev.Password != "" {
			passwords[ev.Password] = true
		}
		if ev.Kind == telemetry.KindLoginAttempt {
			totalAttempts++
		}
	}

	var patterns []string
	details := make(map[string]int)
	score := 0

	basePoints := totalAttempts * cfg.BasePerAttempt
	score += basePoints
	details["base_attempt_points"] = basePoints

	// average rate; sub-minute bursts count against a one-minute floor
	durationMinutes := math.Max(duration/60, 1)
	if float64(totalAttempts)/durationMinutes > cfg.HighVelocityPerMinute {
		patterns = append(patterns, PatternHighVelocity)
		score += cfg.HighVelocityWeight
		details["high_velocity_bonus"] = cfg.HighVelocityWeight
	}

	for u := range usernames {
		if adminUsernames[strings.ToLower(u)] {
			patterns = append(patterns, PatternAdminTargeting)
			score += cfg.AdminTargetingWeight
			details["admin_targeting_bonus"] = cfg.AdminTargetingWeight
			break
		}
	}

	stuffing := len(usernames) == 1 && len(passwords) > 3
	if stuffing {
		patterns = append(patterns, PatternCredentialStuffing)
		score += cfg.CredentialStuffingWeight
		details["credential_stuffing_bonus"] = cfg.CredentialStuffingWeight
	}

	// stuffing already explains a wide password spread for one account
	if (len(usernames) > 3 || len(passwords) > 5) && !stuffing {
		patterns = append(patterns, PatternBruteForce)
		score += cfg.BruteForceWeight
		details["brute_force_bonus"] = cfg.BruteForceWeight
	}

	if score > cfg.RiskScoreCap {
		score = cfg.RiskScoreCap
	}

	return &Profile{
		FirstSeen:       first,
		LastSeen:        last,
		Duration:        math.Round(duration*100) / 100,
		TotalAttempts:   totalAttempts,
		UniqueUsernames: sortedKeys(usernames),
		UniquePasswords: sortedKeys(passwords),
		Patterns:        patterns,
		RiskScore:       score,
		ScoreDetails:    details,
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

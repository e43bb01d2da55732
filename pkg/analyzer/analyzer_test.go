package analyzer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voslund/decoynet/pkg/telemetry"
)

func attemptAt(ts time.Time, ip, username, password string) telemetry.Event {
	return telemetry.Event{
		ID:        telemetry.NewID(),
		Timestamp: ts,
		Kind:      telemetry.KindLoginAttempt,
		SourceIP:  ip,
		Username:  username,
		Password:  password,
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	assert.Nil(t, Analyze(DefaultConfig(), nil))
}

func TestAnalyzeBaseScore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []telemetry.Event{
		attemptAt(base, "203.0.113.5", "guest", "a"),
		attemptAt(base.Add(30*time.Second), "203.0.113.5", "guest", "b"),
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.TotalAttempts)
	assert.Equal(t, 2, p.ScoreDetails["base_attempt_points"])
	assert.Equal(t, 30.0, p.Duration)
	assert.Equal(t, []string{"guest"}, p.UniqueUsernames)
	assert.Empty(t, p.Patterns)
}

func TestAnalyzeHighVelocity(t *testing.T) {
	// six attempts in ten seconds clears the per-minute threshold
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []telemetry.Event
	for i := 0; i < 6; i++ {
		events = append(events, attemptAt(base.Add(time.Duration(i*2)*time.Second), "203.0.113.5", "guest", fmt.Sprintf("pw%d", i%2)))
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Contains(t, p.Patterns, PatternHighVelocity)
	assert.Equal(t, 20, p.ScoreDetails["high_velocity_bonus"])
	assert.Equal(t, 6+20, p.RiskScore)
}

func TestAnalyzeSlowScanNotHighVelocity(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []telemetry.Event
	for i := 0; i < 6; i++ {
		events = append(events, attemptAt(base.Add(time.Duration(i)*time.Minute), "203.0.113.5", "guest", "pw"))
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.NotContains(t, p.Patterns, PatternHighVelocity)
}

func TestAnalyzeAdminTargeting(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []telemetry.Event{
		attemptAt(base, "203.0.113.5", "ROOT", "toor"),
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Contains(t, p.Patterns, PatternAdminTargeting)
	assert.Equal(t, 1+30, p.RiskScore)
}

func TestAnalyzeCredentialStuffing(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []telemetry.Event
	for i := 0; i < 4; i++ {
		events = append(events, attemptAt(base.Add(time.Duration(i)*time.Minute), "203.0.113.5", "guest", fmt.Sprintf("leaked%d", i)))
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Contains(t, p.Patterns, PatternCredentialStuffing)
	assert.NotContains(t, p.Patterns, PatternBruteForce)
}

func TestAnalyzeStuffingSuppressesBruteForce(t *testing.T) {
	// one username with six passwords would trip both detectors;
	// only stuffing may fire
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []telemetry.Event
	for i := 0; i < 6; i++ {
		events = append(events, attemptAt(base.Add(time.Duration(i)*time.Minute), "203.0.113.5", "guest", fmt.Sprintf("pw%d", i)))
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Contains(t, p.Patterns, PatternCredentialStuffing)
	assert.NotContains(t, p.Patterns, PatternBruteForce)
}

func TestAnalyzeBruteForce(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []telemetry.Event
	for i := 0; i < 4; i++ {
		events = append(events, attemptAt(base.Add(time.Duration(i)*time.Minute), "203.0.113.5", fmt.Sprintf("user%d", i), "password"))
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Contains(t, p.Patterns, PatternBruteForce)
	assert.Equal(t, 4+20, p.RiskScore)
}

func TestAnalyzeScoreCap(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []telemetry.Event
	for i := 0; i < 200; i++ {
		events = append(events, attemptAt(base.Add(time.Duration(i)*time.Second), "203.0.113.5", "admin", fmt.Sprintf("pw%d", i)))
	}

	p := Analyze(DefaultConfig(), events)
	require.NotNil(t, p)
	assert.Equal(t, 100, p.RiskScore)
}

func TestAnalyzeCustomWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminTargetingWeight = 50

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Analyze(cfg, []telemetry.Event{attemptAt(base, "203.0.113.5", "admin", "x")})
	require.NotNil(t, p)
	assert.Equal(t, 1+50, p.RiskScore)
}

func TestGroupBySource(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []telemetry.Event{
		attemptAt(base, "203.0.113.5", "a", "1"),
		attemptAt(base, "198.51.100.9", "b", "2"),
		attemptAt(base, "203.0.113.5", "c", "3"),
		{Kind: telemetry.KindSessionEnd, Timestamp: base},
	}

	grouped := GroupBySource(events)
	assert.Len(t, grouped, 2)
	assert.Len(t, grouped["203.0.113.5"], 2)
	assert.Len(t, grouped["198.51.100.9"], 1)
}

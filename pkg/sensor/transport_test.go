package sensor

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rwPair struct {
	io.Reader
	io.Writer
}

// stubHandler records what the transport asked for.
type stubHandler struct {
	allow bool

	username string
	password string
	opened   bool
	leftover string
}

func (s *stubHandler) OnAuthenticate(username, password string) bool {
	s.username, s.password = username, password
	return s.allow
}

func (s *stubHandler) OnInteractiveSessionOpen(stream io.ReadWriter) {
	s.opened = true
	b, _ := io.ReadAll(stream)
	s.leftover = string(b)
}

func TestLineTransportExchange(t *testing.T) {
	in := strings.NewReader("SSH-2.0-probe\r\nroot\r\nsecret1\r\nls -la\n")
	out := &bytes.Buffer{}
	h := &stubHandler{allow: true}

	require.NoError(t, LineTransport{}.Serve(rwPair{in, out}, h))

	assert.Equal(t, "root", h.username)
	assert.Equal(t, "secret1", h.password)
	assert.True(t, h.opened)
	// The transport must not read past the credential lines. Whatever
	// follows belongs to the session handler.
	assert.Equal(t, "ls -la\n", h.leftover)

	assert.True(t, strings.HasPrefix(out.String(), Banner+"\r\n"))
	assert.Contains(t, out.String(), "login: ")
	assert.Contains(t, out.String(), "Password: ")
}

func TestLineTransportBareNewlines(t *testing.T) {
	in := strings.NewReader("SSH-2.0-probe\nadmin\nadmin\nexit\n")
	h := &stubHandler{allow: true}

	require.NoError(t, LineTransport{}.Serve(rwPair{in, &bytes.Buffer{}}, h))
	assert.Equal(t, "admin", h.username)
	assert.Equal(t, "admin", h.password)
}

func TestLineTransportDeny(t *testing.T) {
	in := strings.NewReader("SSH-2.0-probe\r\nroot\r\nwrong\r\n")
	out := &bytes.Buffer{}
	h := &stubHandler{allow: false}

	require.NoError(t, LineTransport{}.Serve(rwPair{in, out}, h))
	assert.False(t, h.opened)
	// The refusal wording carries no hint of why; a blocked client and a
	// mistyped password read identically.
	assert.True(t, strings.HasSuffix(out.String(), "Permission denied (password).\r\n"))
}

func TestLineTransportEOF(t *testing.T) {
	h := &stubHandler{allow: true}
	err := LineTransport{}.Serve(rwPair{strings.NewReader(""), &bytes.Buffer{}}, h)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, h.opened)
	assert.Empty(t, h.username)
}

func TestLineTransportLineTooLong(t *testing.T) {
	in := strings.NewReader("SSH-2.0-probe\r\n" + strings.Repeat("a", maxLineLen+1) + "\r\n")
	h := &stubHandler{allow: true}

	err := LineTransport{}.Serve(rwPair{in, &bytes.Buffer{}}, h)
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.False(t, h.opened)
}

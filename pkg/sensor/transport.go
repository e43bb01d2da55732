package sensor

import (
	"io"
	"strings"
)

// Banner is the identification line of the impersonated service.
const Banner = "SSH-2.0-OpenSSH_8.2p1"

const maxLineLen = 1024

// Handler is the admission core's half of the protocol boundary. A
// transport collects a credential pair however its wire format dictates
// and asks OnAuthenticate whether the pair may log in; when it is
// allowed, the transport hands the post-login byte stream to
// OnInteractiveSessionOpen, which owns it until the session is over.
type Handler interface {
	OnAuthenticate(username, password string) bool
	OnInteractiveSessionOpen(stream io.ReadWriter)
}

// Transport is the login-protocol engine the sensor delegates wire
// details to. Serve drives one connection through the whole exchange:
// greeting, credential collection and denial wording. The core supplies
// decisions through the Handler and never touches handshake internals.
type Transport interface {
	Serve(rw io.ReadWriter, h Handler) error
}

// LineTransport speaks a minimal line-oriented login dialogue: banner
// exchange, then login and password prompts. One credential pair per
// connection; a denied pair ends the exchange the way a real server
// drops a failed login.
type LineTransport struct{}

var _ Transport = LineTransport{}

func (LineTransport) Serve(rw io.ReadWriter, h Handler) error {
	if _, err := io.WriteString(rw, Banner+"\r\n"); err != nil {
		return err
	}
	// The peer identifies itself the same way; drain its line.
	if _, err := readLine(rw); err != nil {
		return err
	}

	if _, err := io.WriteString(rw, "login: "); err != nil {
		return err
	}
	username, err := readLine(rw)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(rw, "Password: "); err != nil {
		return err
	}
	password, err := readLine(rw)
	if err != nil {
		return err
	}

	if !h.OnAuthenticate(username, password) {
		// One wording for every refusal: the peer must not learn whether
		// the address is blocked or the password merely wrong.
		_, err := io.WriteString(rw, "Permission denied (password).\r\n")
		return err
	}

	h.OnInteractiveSessionOpen(rw)
	return nil
}

// readLine reads one byte at a time so nothing beyond the newline is
// consumed from the stream. Lines end with \n; a trailing \r is stripped.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for sb.Len() < maxLineLen {
		if _, err := r.Read(buf); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		sb.WriteByte(buf[0])
	}
	return "", ErrLineTooLong
}

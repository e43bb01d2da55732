package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/voslund/decoynet/internal/errx"
)

// clientBanner identifies the probe in the sensor's greeting exchange.
const clientBanner = "SSH-2.0-decoynet_probe"

// escapeChar disconnects an interactive session (Ctrl-]).
const escapeChar = 0x1d

var attackCmd = &cobra.Command{
	Use:   "attack <host[:port]>",
	Short: "Probe a sensor with an interactive login",
	Long: `Probe a sensor with an interactive login.

Dials a running sensor, performs the login exchange with the given
credentials and attaches the terminal to the resulting shell, so a
deployment can be exercised end to end without waiting for a real
attacker. Press Ctrl-] to disconnect.

With stdin piped instead of a terminal, lines are fed to the shell as
commands and the session ends at EOF:

  printf 'whoami\nls -la\nexit\n' | decoynet attack sensor-host`,
	Example: `  decoynet attack localhost
  decoynet attack 10.0.4.20:2222 --user root --password 1234`,
	Args: cobra.ExactArgs(1),
	RunE: runAttack,
}

func init() {
	attackCmd.Flags().StringP("user", "u", "admin", "Login username")
	attackCmd.Flags().StringP("password", "p", "admin", "Login password")
	attackCmd.Flags().Duration("timeout", 10*time.Second, "Dial timeout")
	rootCmd.AddCommand(attackCmd)
}

func runAttack(cmd *cobra.Command, args []string) error {
	target := args[0]
	if !strings.Contains(target, ":") {
		target = net.JoinHostPort(target, "2222")
	}
	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	conn, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		return errx.Wrap(ErrDialSensor, err)
	}
	defer conn.Close()

	// The greeting and credential prompts each consume one line; pipeline
	// all three so the exchange needs no prompt scraping.
	login := clientBanner + "\r\n" + user + "\r\n" + password + "\r\n"
	if _, err := io.WriteString(conn, login); err != nil {
		return errx.Wrap(ErrDialSensor, err)
	}

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s as %s. Press Ctrl-] to disconnect.\r\n", target, user)
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return errx.Wrap(ErrSetRawMode, err)
		}
		defer term.Restore(stdinFd, oldState)
		go func() {
			relayRawInput(conn)
			conn.Close()
		}()
	} else {
		go func() {
			io.Copy(conn, os.Stdin)
			// Half-close so the shell sees EOF but its remaining output
			// still flushes.
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.CloseWrite()
			}
		}()
	}

	io.Copy(os.Stdout, conn)
	fmt.Fprint(cmd.ErrOrStderr(), "\r\nConnection closed.\r\n")
	return nil
}

// relayRawInput copies terminal input to the connection, translating the
// carriage returns a raw-mode Enter produces into CRLF so the sensor's
// line reader sees a terminator. Returns on the escape byte or stdin EOF.
func relayRawInput(conn net.Conn) {
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case escapeChar:
				return
			case '\r':
				if _, werr := io.WriteString(conn, "\r\n"); werr != nil {
					return
				}
			default:
				if _, werr := conn.Write([]byte{b}); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

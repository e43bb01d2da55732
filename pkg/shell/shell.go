// Package shell emulates a root login shell over a session's virtual
// tree. Command coverage and output are tuned to survive the first
// minute of an attacker's orientation: enough to look real, never enough
// to do harm.
package shell

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/voslund/decoynet/pkg/vfs"
)

// WelcomeBanner greets every admitted session.
const WelcomeBanner = "Welcome to Ubuntu 20.04.1 LTS (GNU/Linux 5.4.0-42-generic x86_64)"

const unameAll = "Linux " + vfs.Hostname + " 5.4.0-42-generic #46-Ubuntu SMP Fri Jul 10 00:24:02 UTC 2020 x86_64 x86_64 x86_64 GNU/Linux"

// Interpreter executes fake commands against one session's tree.
// Not safe for concurrent use; each session owns its interpreter.
type Interpreter struct {
	fs   *vfs.MemoryFS
	cwd  string
	user string
}

// NewInterpreter creates an interpreter rooted in /root, logged in as root.
func NewInterpreter(fs *vfs.MemoryFS) *Interpreter {
	return &Interpreter{
		fs:   fs,
		cwd:  "/root",
		user: "root",
	}
}

// Cwd returns the current working directory.
func (it *Interpreter) Cwd() string {
	return it.cwd
}

// FS exposes the session tree, for decoy injection.
func (it *Interpreter) FS() *vfs.MemoryFS {
	return it.fs
}

// Prompt renders the shell prompt for the current directory, with the
// home directory shown as ~.
func (it *Interpreter) Prompt() string {
	dir := it.cwd
	if dir == "/root" {
		dir = "~"
	} else if strings.HasPrefix(dir, "/root/") {
		dir = "~" + strings.TrimPrefix(dir, "/root")
	}
	return it.user + "@" + vfs.Hostname + ":" + dir + "# "
}

// Listing returns the names in the current directory, for oracle context.
func (it *Interpreter) Listing() []string {
	entries, err := it.fs.List(it.cwd)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

// Execute runs one command line and returns its output plus whether the
// session asked to end.
func (it *Interpreter) Execute(line string) (output string, exit bool) {
	args, err := shellquote.Split(line)
	if err != nil {
		// unbalanced quotes; a real shell would prompt for more input
		args = strings.Fields(line)
	}
	if len(args) == 0 {
		return "", false
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "ls":
		return it.cmdLs(args), false
	case "cd":
		return it.cmdCd(args), false
	case "pwd":
		return it.cwd, false
	case "cat":
		return it.cmdCat(args), false
	case "whoami":
		return it.user, false
	case "id":
		return "uid=0(" + it.user + ") gid=0(" + it.user + ") groups=0(" + it.user + ")", false
	case "uname":
		for _, a := range args {
			if a == "-a" {
				return unameAll, false
			}
		}
		return "Linux", false
	case "exit", "logout":
		return "", true
	case "wget", "curl", "apt", "apt-get", "yum":
		// tools that would pull in real capability are refused the same
		// way an unknown command fails
		return cmd + ": command not found", false
	default:
		return cmd + ": command not found", false
	}
}

func (it *Interpreter) cmdLs(args []string) string {
	var paths []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			paths = append(paths, a)
		}
	}

	target := it.cwd
	shown := target
	if len(paths) > 0 {
		target = vfs.Resolve(it.cwd, paths[0])
		shown = paths[0]
	}

	entries, err := it.fs.List(target)
	if err != nil {
		return "ls: cannot access '" + shown + "': No such file or directory"
	}
	if len(entries) == 1 && !entries[0].IsDir && !it.fs.IsDir(target) {
		return shown
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return strings.Join(names, "  ")
}

func (it *Interpreter) cmdCd(args []string) string {
	if len(args) == 0 {
		it.cwd = "/root"
		return ""
	}
	target := vfs.Resolve(it.cwd, args[0])
	if it.fs.IsDir(target) {
		it.cwd = target
		return ""
	}
	return "cd: " + args[0] + ": No such file or directory"
}

func (it *Interpreter) cmdCat(args []string) string {
	if len(args) == 0 {
		return ""
	}
	target := vfs.Resolve(it.cwd, args[0])
	content, err := it.fs.ReadFile(target)
	if err != nil {
		if it.fs.IsDir(target) {
			return "cat: " + args[0] + ": Is a directory"
		}
		return "cat: " + args[0] + ": No such file or directory"
	}
	return strings.TrimSuffix(string(content), "\n")
}

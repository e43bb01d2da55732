package vfs

import "os"

// Hostname is the identity the decoy tree presents in /etc/hostname and
// in shell prompts.
const Hostname = "server01"

// parents ordered before children
var seedDirs = []string{
	"/bin",
	"/etc",
	"/home",
	"/home/user",
	"/root",
	"/tmp",
	"/usr",
	"/usr/bin",
	"/usr/lib",
	"/var",
	"/var/log",
	"/var/www",
}

var seedBinaries = []string{
	"/bin/ls",
	"/bin/cd",
	"/bin/pwd",
	"/bin/cat",
	"/bin/echo",
	"/bin/bash",
	"/bin/sh",
}

var seedFiles = map[string]string{
	"/etc/passwd":   "root:x:0:0:root:/root:/bin/bash\nuser:x:1000:1000:user:/home/user:/bin/bash\n",
	"/etc/shadow":   "root:*:19777:0:99999:7:::\nuser:*:19777:0:99999:7:::\n",
	"/etc/hostname": Hostname + "\n",
	"/etc/hosts":    "127.0.0.1\tlocalhost\n127.0.1.1\t" + Hostname + "\n",
	"/var/log/auth.log": "Jul 10 00:24:02 " + Hostname + " sshd[812]: Server listening on 0.0.0.0 port 22.\n" +
		"Jul 10 06:13:45 " + Hostname + " sshd[1274]: Accepted password for root from 10.0.4.12 port 51622 ssh2\n" +
		"Jul 10 06:13:45 " + Hostname + " sshd[1274]: pam_unix(sshd:session): session opened for user root by (uid=0)\n",
	"/var/log/syslog": "Jul 10 00:24:01 " + Hostname + " systemd[1]: Started Daily apt upgrade and clean activities.\n" +
		"Jul 10 00:24:02 " + Hostname + " systemd[1]: Reached target Multi-User System.\n",
}

// DefaultTree builds the Ubuntu-like tree every session starts from.
// Each session gets its own tree so one attacker's writes never leak
// into another attacker's view.
func DefaultTree() *MemoryFS {
	fs := NewMemoryFS()
	for _, dir := range seedDirs {
		if err := fs.Mkdir(dir, 0o755); err != nil {
			panic("vfs: seed dir " + dir + ": " + err.Error())
		}
	}
	for _, bin := range seedBinaries {
		if err := fs.WriteFile(bin, nil, 0o755); err != nil {
			panic("vfs: seed binary " + bin + ": " + err.Error())
		}
	}
	for p, content := range seedFiles {
		mode := os.FileMode(0o644)
		if p == "/etc/shadow" {
			mode = 0o640
		}
		if err := fs.WriteFile(p, []byte(content), mode); err != nil {
			panic("vfs: seed file " + p + ": " + err.Error())
		}
	}
	return fs
}

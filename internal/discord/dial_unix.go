//go:build !windows

package discord

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
)

// dialIPC connects to the first discord-ipc-N socket that accepts.
func dialIPC() (io.ReadWriteCloser, error) {
	dir := socketDir()
	var lastErr error
	for i := 0; i < maxPipes; i++ {
		path := filepath.Join(dir, fmt.Sprintf("discord-ipc-%d", i))
		conn, err := net.DialTimeout("unix", path, dialTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSocket, lastErr)
}

func socketDir() string {
	for _, key := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(key); dir != "" {
			return dir
		}
	}
	return "/tmp"
}

//go:build windows

package discord

import (
	"fmt"
	"io"

	"github.com/natefinch/npipe"
)

// dialIPC connects to the first \\.\pipe\discord-ipc-N that accepts.
func dialIPC() (io.ReadWriteCloser, error) {
	var lastErr error
	for i := 0; i < maxPipes; i++ {
		path := fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i)
		conn, err := npipe.DialTimeout(path, dialTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSocket, lastErr)
}

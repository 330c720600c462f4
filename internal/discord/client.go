// Package discord talks to the local Discord client over its IPC socket to
// set and clear rich presence.
package discord

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	opHandshake uint32 = 0
	opFrame     uint32 = 1
	opClose     uint32 = 2
	opPing      uint32 = 3
	opPong      uint32 = 4
)

const (
	maxPipes     = 10
	dialTimeout  = 2 * time.Second
	replyTimeout = 5 * time.Second
	maxFrameSize = 64 << 10
)

var (
	// ErrNoSocket is returned when no Discord IPC endpoint accepts a connection.
	ErrNoSocket = errors.New("could not connect to any discord-ipc socket")

	// ErrClosedByPeer is returned when Discord sends a close frame.
	ErrClosedByPeer = errors.New("discord closed the IPC connection")

	// ErrRejected is returned when Discord answers a command with an ERROR event.
	ErrRejected = errors.New("discord rejected command")
)

// Dialer opens a raw IPC connection.
type Dialer func() (io.ReadWriteCloser, error)

// Client is a Discord RPC connection. It reconnects lazily: a failed write
// drops the connection and the next SetActivity dials again.
type Client struct {
	clientID string
	dial     Dialer
	pid      int
	logger   *slog.Logger

	mu   sync.Mutex
	conn io.ReadWriteCloser
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the platform socket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

// WithPID sets the process id reported with SET_ACTIVITY.
func WithPID(pid int) Option {
	return func(c *Client) {
		c.pid = pid
	}
}

// New creates a Client for the given Discord application id. It does not connect.
func New(clientID string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		clientID: clientID,
		dial:     dialIPC,
		pid:      os.Getpid(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type handshake struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

type command struct {
	Cmd   string       `json:"cmd"`
	Args  activityArgs `json:"args"`
	Nonce string       `json:"nonce"`
}

type activityArgs struct {
	PID      int       `json:"pid"`
	Activity *Activity `json:"activity"`
}

type reply struct {
	Cmd   string `json:"cmd"`
	Evt   string `json:"evt"`
	Nonce string `json:"nonce"`
	Data  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// Connect dials Discord and performs the handshake. Calling it while connected is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

// Connected reports whether an IPC connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) connectLocked() error {
	if c.conn != nil {
		return nil
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.conn = conn

	if err := c.writeFrame(opHandshake, handshake{V: 1, ClientID: c.clientID}); err != nil {
		c.dropLocked()
		return fmt.Errorf("handshake: %w", err)
	}
	ready, err := c.awaitReply("")
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("handshake: %w", err)
	}
	if ready.Evt != "READY" {
		c.dropLocked()
		return fmt.Errorf("handshake: unexpected event %q", ready.Evt)
	}

	c.logger.Info("connected to Discord")
	return nil
}

// SetActivity replaces the presence. A nil activity clears it.
func (c *Client) SetActivity(activity *Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return err
	}
	return c.sendActivity(activity)
}

// Clear removes the presence. Without a connection there is nothing shown,
// so Clear does not dial.
func (c *Client) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	return c.sendActivity(nil)
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.writeFrame(opClose, struct{}{}); err != nil {
		c.logger.Debug("writing close frame", "error", err)
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) sendActivity(activity *Activity) error {
	nonce := uuid.NewString()
	cmd := command{
		Cmd:   "SET_ACTIVITY",
		Args:  activityArgs{PID: c.pid, Activity: activity},
		Nonce: nonce,
	}
	if err := c.writeFrame(opFrame, cmd); err != nil {
		c.dropLocked()
		return fmt.Errorf("set activity: %w", err)
	}

	r, err := c.awaitReply(nonce)
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("set activity: %w", err)
	}
	if r.Evt == "ERROR" {
		return fmt.Errorf("%w: %s (code %d)", ErrRejected, r.Data.Message, r.Data.Code)
	}
	return nil
}

// dropLocked closes a connection that is no longer usable.
func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.logger.Warn("Discord connection lost")
}

func (c *Client) writeFrame(op uint32, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint32(frame[0:4], op)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(data)))
	copy(frame[8:], data)
	_, err = c.conn.Write(frame)
	return err
}

func (c *Client) readFrame() (uint32, []byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return 0, nil, err
	}
	op := binary.LittleEndian.Uint32(hdr[0:4])
	n := binary.LittleEndian.Uint32(hdr[4:8])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return 0, nil, err
	}
	return op, body, nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// awaitReply reads frames until a response with the given nonce (or any
// response when nonce is empty) arrives. Pings are answered in place.
func (c *Client) awaitReply(nonce string) (reply, error) {
	if d, ok := c.conn.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(replyTimeout))
		defer d.SetDeadline(time.Time{})
	}

	for {
		op, body, err := c.readFrame()
		if err != nil {
			return reply{}, err
		}

		switch op {
		case opPing:
			if err := c.writeFrame(opPong, json.RawMessage(body)); err != nil {
				return reply{}, err
			}
		case opClose:
			var closing struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			_ = json.Unmarshal(body, &closing)
			return reply{}, fmt.Errorf("%w: %s (code %d)", ErrClosedByPeer, closing.Message, closing.Code)
		case opFrame:
			var r reply
			if err := json.Unmarshal(body, &r); err != nil {
				return reply{}, fmt.Errorf("decoding reply: %w", err)
			}
			if nonce == "" || r.Nonce == nonce || r.Evt == "ERROR" {
				return r, nil
			}
		}
	}
}

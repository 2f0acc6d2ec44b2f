package traci

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("traci: connection closed")

// CommandError is an error status reported by the engine for one command.
// The connection remains usable.
type CommandError struct {
	Command     uint8
	Status      uint8
	Description string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("traci: command 0x%02x failed (status 0x%02x): %s", e.Command, e.Status, e.Description)
}

// ProtocolError is a malformed or unexpected response. The connection
// should not be used afterwards.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "traci: protocol error: " + e.Msg
}

// Conn is a synchronous TraCI client connection. Each call sends one
// command and blocks until its response arrives.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial connects to a TraCI server at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("traci: dial %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// NewConn wraps an established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

// Close asks the engine to shut down and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_, cmdErr := c.roundTrip(CmdClose, nil)
	c.closed = true
	err := c.conn.Close()
	if cmdErr != nil && !errors.Is(cmdErr, io.EOF) {
		return cmdErr
	}
	return err
}

// GetVersion returns the API version and the engine identifier.
func (c *Conn) GetVersion() (int32, string, error) {
	r, err := c.command(CmdGetVersion, nil)
	if err != nil {
		return 0, "", err
	}
	if _, err := r.ReadLength(); err != nil {
		return 0, "", err
	}
	if id, err := r.ReadUint8(); err != nil || id != CmdGetVersion {
		return 0, "", &ProtocolError{Msg: "bad version response"}
	}
	api, err := r.ReadInt32()
	if err != nil {
		return 0, "", err
	}
	name, err := r.ReadString()
	if err != nil {
		return 0, "", err
	}
	return api, name, nil
}

// SimulationStep advances the engine. A target of 0 performs one step.
func (c *Conn) SimulationStep(target float64) error {
	var s Storage
	s.WriteDouble(target)
	r, err := c.command(CmdSimStep, s.Bytes())
	if err != nil {
		return err
	}
	// subscription results are not used; the count must still be present
	if _, err := r.ReadInt32(); err != nil {
		return &ProtocolError{Msg: "missing subscription count in step response"}
	}
	return nil
}

// Get sends a variable retrieval command and returns a reader positioned
// at the type tag of the returned value. params, when non-nil, appends the
// command's parameters after the object id.
func (c *Conn) Get(domain, variable uint8, objectID string, params func(*Storage)) (*Reader, error) {
	var s Storage
	s.WriteUint8(variable)
	s.WriteString(objectID)
	if params != nil {
		params(&s)
	}
	r, err := c.command(domain, s.Bytes())
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadLength(); err != nil {
		return nil, err
	}
	resp, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if resp != domain+ResponseOffset {
		return nil, &ProtocolError{Msg: fmt.Sprintf("response 0x%02x to get 0x%02x", resp, domain)}
	}
	v, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if v != variable {
		return nil, &ProtocolError{Msg: fmt.Sprintf("variable 0x%02x in response to 0x%02x", v, variable)}
	}
	if _, err := r.ReadString(); err != nil {
		return nil, err
	}
	return r, nil
}

// Set sends a state change command. value appends the typed new value.
func (c *Conn) Set(domain, variable uint8, objectID string, value func(*Storage)) error {
	var s Storage
	s.WriteUint8(variable)
	s.WriteString(objectID)
	if value != nil {
		value(&s)
	}
	_, err := c.command(domain, s.Bytes())
	return err
}

func (c *Conn) GetString(domain, variable uint8, objectID string) (string, error) {
	r, err := c.Get(domain, variable, objectID, nil)
	if err != nil {
		return "", err
	}
	return r.ReadTypedString()
}

func (c *Conn) GetStringList(domain, variable uint8, objectID string) ([]string, error) {
	r, err := c.Get(domain, variable, objectID, nil)
	if err != nil {
		return nil, err
	}
	return r.ReadTypedStringList()
}

func (c *Conn) GetDouble(domain, variable uint8, objectID string) (float64, error) {
	r, err := c.Get(domain, variable, objectID, nil)
	if err != nil {
		return 0, err
	}
	return r.ReadTypedDouble()
}

func (c *Conn) GetInt(domain, variable uint8, objectID string) (int32, error) {
	r, err := c.Get(domain, variable, objectID, nil)
	if err != nil {
		return 0, err
	}
	return r.ReadTypedInt32()
}

// command performs a locked round trip and checks the status response.
func (c *Conn) command(id uint8, content []byte) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.roundTrip(id, content)
}

func (c *Conn) roundTrip(id uint8, content []byte) (*Reader, error) {
	msg := frameMessage(frameCommand(id, content))
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("traci: write: %w", err)
	}
	body, err := readMessage(c.conn)
	if err != nil {
		return nil, err
	}
	r := NewReader(body)
	if err := readStatus(r, id); err != nil {
		return nil, err
	}
	return r, nil
}

// readMessage reads one length-prefixed message and returns its body.
func readMessage(rd io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(rd, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("traci: read length: %w", err)
	}
	n := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	if n < 0 {
		return nil, &ProtocolError{Msg: fmt.Sprintf("message length %d", n+4)}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, fmt.Errorf("traci: read body: %w", err)
	}
	return body, nil
}

func readStatus(r *Reader, id uint8) error {
	if _, err := r.ReadLength(); err != nil {
		return &ProtocolError{Msg: "missing status"}
	}
	got, err := r.ReadUint8()
	if err != nil {
		return err
	}
	result, err := r.ReadUint8()
	if err != nil {
		return err
	}
	desc, err := r.ReadString()
	if err != nil {
		return err
	}
	if got != id {
		return &ProtocolError{Msg: fmt.Sprintf("status for 0x%02x, sent 0x%02x", got, id)}
	}
	if result != ResultOK {
		return &CommandError{Command: id, Status: result, Description: desc}
	}
	return nil
}

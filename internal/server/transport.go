// Package server provides the frame transports a Handle reads from and writes
// to: newline-delimited JSON over TCP and JSON text messages over WebSocket.
package server

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Framer moves whole frames over one connection. ReadFrame is only called by
// the owning session; WriteFrame calls are serialized by the Handle.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	// Resources lists the closers released by Handle.Close, in order.
	Resources() []Resource
}

// Resource is one independently released piece of a transport.
type Resource struct {
	Name  string
	Close func() error
}

type lineFramer struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// NewLineFramer frames newline-delimited JSON over a stream connection.
// Lines longer than maxSize bytes fail the read.
func NewLineFramer(conn net.Conn, maxSize int64) Framer {
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if maxSize < int64(initial) {
		initial = int(maxSize)
	}
	scanner.Buffer(make([]byte, 0, initial), int(maxSize))
	return &lineFramer{conn: conn, scanner: scanner}
}

func (f *lineFramer) ReadFrame() ([]byte, error) {
	for f.scanner.Scan() {
		line := bytes.TrimSpace(f.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (f *lineFramer) WriteFrame(frame []byte) error {
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := f.conn.Write(buf)
	return err
}

func (f *lineFramer) SetReadDeadline(t time.Time) error { return f.conn.SetReadDeadline(t) }
func (f *lineFramer) SetWriteDeadline(t time.Time) error { return f.conn.SetWriteDeadline(t) }
func (f *lineFramer) RemoteAddr() string { return f.conn.RemoteAddr().String() }

func (f *lineFramer) Resources() []Resource {
	var resources []Resource
	if tcp, ok := f.conn.(*net.TCPConn); ok {
		resources = append(resources,
			Resource{Name: "input", Close: tcp.CloseRead},
			Resource{Name: "output", Close: tcp.CloseWrite},
		)
	}
	return append(resources, Resource{Name: "socket", Close: f.conn.Close})
}

type wsFramer struct {
	conn *websocket.Conn
}

// NewWebSocketFramer frames one JSON value per WebSocket data message.
func NewWebSocketFramer(conn *websocket.Conn, maxSize int64) Framer {
	conn.SetReadLimit(maxSize)
	return &wsFramer{conn: conn}
}

func (f *wsFramer) ReadFrame() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(data), nil
}

func (f *wsFramer) WriteFrame(frame []byte) error {
	return f.conn.WriteMessage(websocket.TextMessage, frame)
}

func (f *wsFramer) SetReadDeadline(t time.Time) error { return f.conn.SetReadDeadline(t) }
func (f *wsFramer) SetWriteDeadline(t time.Time) error { return f.conn.SetWriteDeadline(t) }
func (f *wsFramer) RemoteAddr() string { return f.conn.RemoteAddr().String() }

func (f *wsFramer) Resources() []Resource {
	return []Resource{
		{Name: "close frame", Close: func() error {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			return f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}},
		{Name: "socket", Close: f.conn.Close},
	}
}

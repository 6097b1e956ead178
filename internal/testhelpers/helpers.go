// Package testhelpers provides common utilities and helper functions for testing the igloo chat server.
//
// It provides chat clients for both transports that speak the wire protocol
// directly, so tests exercise the same framing real clients use.
package testhelpers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every blocking read performed by the helpers.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the Origin header sent by WebSocket test clients.
const TestOrigin = "http://localhost:8080"

// Client is a minimal chat client used by tests.
type Client interface {
	// SendRaw writes one frame exactly as given.
	SendRaw(frame []byte) error
	// ReadLine returns the next server line, decoded from its JSON string frame.
	ReadLine(timeout time.Duration) (string, error)
	Close() error
}

// Login sends the username handshake.
func Login(c Client, username string) error {
	frame, err := json.Marshal(username)
	if err != nil {
		return err
	}
	return c.SendRaw(frame)
}

// SendEnvelope sends one {kind, body} envelope.
func SendEnvelope(c Client, kind, body string) error {
	frame, err := json.Marshal(map[string]string{"kind": kind, "body": body})
	if err != nil {
		return err
	}
	return c.SendRaw(frame)
}

// ExpectLine reads the next line and fails the test if it differs from want.
func ExpectLine(t *testing.T, c Client, want string) {
	t.Helper()
	got, err := c.ReadLine(DefaultTimeout)
	if err != nil {
		t.Fatalf("Expected line %q, got error: %v", want, err)
	}
	if got != want {
		t.Fatalf("Expected line %q, got %q", want, got)
	}
}

// ReadLines reads exactly n lines.
func ReadLines(t *testing.T, c Client, n int) []string {
	t.Helper()
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := c.ReadLine(DefaultTimeout)
		if err != nil {
			t.Fatalf("Reading line %d of %d: %v", i+1, n, err)
		}
		lines = append(lines, line)
	}
	return lines
}

// JoinLine is the announcement every client receives when username joins.
func JoinLine(username string) string {
	return username + " has joined the chat.\nEnter 'WHOISIN' to see list of connected users."
}

// LeaveLine is the announcement sent when username disconnects.
func LeaveLine(username string) string {
	return username + " has disconnected."
}

// TCPClient speaks newline-delimited JSON over a TCP connection.
type TCPClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// DialTCP connects to addr and fails the test on error.
func DialTCP(t *testing.T, addr string) *TCPClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	return &TCPClient{conn: conn, reader: bufio.NewReader(conn)}
}

// SendRaw writes frame followed by a newline.
func (c *TCPClient) SendRaw(frame []byte) error {
	_, err := c.conn.Write(append(append([]byte(nil), frame...), '\n'))
	return err
}

// ReadLine reads one JSON string frame.
func (c *TCPClient) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	raw, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return decodeLine([]byte(strings.TrimSpace(raw)))
}

// Close closes the underlying connection.
func (c *TCPClient) Close() error {
	return c.conn.Close()
}

// CloseWrite half-closes the connection so the server sees EOF.
func (c *TCPClient) CloseWrite() error {
	if tcp, ok := c.conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return c.conn.Close()
}

// WSClient speaks one JSON value per WebSocket text message.
type WSClient struct {
	conn *websocket.Conn
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*WSClient, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &WSClient{conn: conn}, nil
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// SendRaw writes frame as one text message.
func (c *WSClient) SendRaw(frame []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadLine reads one text message holding a JSON string.
func (c *WSClient) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return decodeLine(data)
}

// Close gracefully closes the WebSocket connection.
func (c *WSClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func decodeLine(frame []byte) (string, error) {
	var line string
	if err := json.Unmarshal(frame, &line); err != nil {
		return "", fmt.Errorf("server frame %q is not a JSON string: %w", frame, err)
	}
	return line, nil
}

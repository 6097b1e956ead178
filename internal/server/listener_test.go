package server_test

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/igloo/internal/server"
	"github.com/Tyrowin/igloo/internal/testhelpers"
)

// startTestServer serves on an ephemeral loopback port and stops on cleanup.
func startTestServer(t *testing.T, configure func(*server.Config)) (*server.Server, string) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	if configure != nil {
		configure(cfg)
	}
	srv := server.New(cfg, server.NewLogger(io.Discard))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	t.Cleanup(func() {
		_ = srv.Stop(2 * time.Second)
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Stop")
		}
	})

	return srv, ln.Addr().String()
}

func waitForUsers(t *testing.T, srv *server.Server, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, srv.Registry().Usernames())
	}, 2*time.Second, 10*time.Millisecond, "registry holds %q", srv.Registry().Usernames())
}

func joinTCP(t *testing.T, addr, username string) *testhelpers.TCPClient {
	t.Helper()
	c := testhelpers.DialTCP(t, addr)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, testhelpers.Login(c, username))
	testhelpers.ExpectLine(t, c, testhelpers.JoinLine(username))
	return c
}

func TestChatScenarioOverTCP(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	alice := joinTCP(t, addr, "alice")
	bob := joinTCP(t, addr, "bob")
	testhelpers.ExpectLine(t, alice, testhelpers.JoinLine("bob"))

	require.NoError(t, testhelpers.SendEnvelope(alice, "MESSAGE", "hi"))
	testhelpers.ExpectLine(t, bob, "alice: hi")
	testhelpers.ExpectLine(t, alice, "alice: hi")

	require.NoError(t, testhelpers.SendEnvelope(alice, "WHOISIN", ""))
	roster := testhelpers.ReadLines(t, alice, 3)
	assert.True(t, strings.HasPrefix(roster[0], "List of the users connected at "), roster[0])
	assert.True(t, strings.HasPrefix(roster[1], "1) alice since "), roster[1])
	assert.True(t, strings.HasPrefix(roster[2], "2) bob since "), roster[2])

	require.NoError(t, testhelpers.SendEnvelope(bob, "LOGOUT", ""))
	// bob's next line is his own departure, so the roster never reached him.
	testhelpers.ExpectLine(t, bob, testhelpers.LeaveLine("bob"))
	testhelpers.ExpectLine(t, alice, testhelpers.LeaveLine("bob"))
	testhelpers.ExpectLine(t, alice, testhelpers.LeaveLine("bob"))

	waitForUsers(t, srv, "alice")

	_, err := bob.ReadLine(testhelpers.DefaultTimeout)
	assert.ErrorIs(t, err, io.EOF, "the server closes bob's connection")
}

func TestAbruptDisconnectIsAnnounced(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	alice := joinTCP(t, addr, "alice")
	bob := joinTCP(t, addr, "bob")
	testhelpers.ExpectLine(t, alice, testhelpers.JoinLine("bob"))

	require.NoError(t, bob.Close())

	testhelpers.ExpectLine(t, alice, testhelpers.LeaveLine("bob"))
	waitForUsers(t, srv, "alice")
}

func TestInvalidHandshakeIsNotRegistered(t *testing.T) {
	srv, addr := startTestServer(t, nil)
	alice := joinTCP(t, addr, "alice")

	intruder := testhelpers.DialTCP(t, addr)
	defer intruder.Close()
	require.NoError(t, testhelpers.SendEnvelope(intruder, "MESSAGE", "no username first"))

	_, err := intruder.ReadLine(testhelpers.DefaultTimeout)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, testhelpers.SendEnvelope(alice, "MESSAGE", "anyone?"))
	testhelpers.ExpectLine(t, alice, "alice: anyone?")
	waitForUsers(t, srv, "alice")
}

func TestHandshakeTimeout(t *testing.T) {
	srv, addr := startTestServer(t, func(cfg *server.Config) {
		cfg.HandshakeTimeout = 200 * time.Millisecond
	})

	silent := testhelpers.DialTCP(t, addr)
	defer silent.Close()

	_, err := silent.ReadLine(testhelpers.DefaultTimeout)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, srv.Registry().Len())
}

func TestStopClosesClientsAndListener(t *testing.T) {
	cfg := server.NewConfig()
	srv := server.New(cfg, server.NewLogger(io.Discard))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	alice := joinTCP(t, addr, "alice")
	pending := testhelpers.DialTCP(t, addr)
	defer pending.Close()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Stop(2*time.Second))
	require.NoError(t, <-served)

	_, err = alice.ReadLine(testhelpers.DefaultTimeout)
	assert.ErrorIs(t, err, io.EOF)
	_, err = pending.ReadLine(testhelpers.DefaultTimeout)
	assert.ErrorIs(t, err, io.EOF, "connections still in handshake are closed too")
	assert.Equal(t, 0, srv.ConnectionCount())

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener is closed")

	assert.NoError(t, srv.Stop(time.Second), "Stop is safe to call twice")
}

func TestContextCancellationStopsServer(t *testing.T) {
	srv := server.New(server.NewConfig(), server.NewLogger(io.Discard))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestStopBeforeServe(t *testing.T) {
	srv := server.New(server.NewConfig(), server.NewLogger(io.Discard))
	require.NoError(t, srv.Stop(time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.NoError(t, srv.Serve(context.Background(), ln))
}

func TestStartFailsWhenPortIsTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := server.NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = taken.Addr().(*net.TCPAddr).Port

	srv := server.New(cfg, server.NewLogger(io.Discard))
	err = srv.Start(context.Background())
	assert.Error(t, err)
}

func TestLogLinesAreTimestamped(t *testing.T) {
	var logs strings.Builder
	logger := server.NewLogger(&logs)
	logger.Print("alice: hi")

	line := strings.TrimSuffix(logs.String(), "\n")
	_, err := time.Parse("15:04:05", line[:8])
	require.NoError(t, err, line)
	assert.Equal(t, " alice: hi", line[8:])
}

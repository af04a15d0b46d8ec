//go:build unix

package mq_test

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/logging"
	"github.com/momentics/hioload-mq/mq"
	"github.com/momentics/hioload-mq/protocol"
)

const loopback = "127.0.0.1"

func soon() time.Time { return time.Now().Add(5 * time.Second) }

func quiet(opts ...mq.Option) []mq.Option {
	return append([]mq.Option{mq.WithLogger(logging.Discard())}, opts...)
}

// listen opens a loopback listener closed at test cleanup.
func listen(t *testing.T, opts ...mq.Option) *mq.Channel {
	t.Helper()
	ln, err := mq.Serve(loopback, 0, quiet(opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	require.NotZero(t, ln.Port())
	return ln
}

// accept waits for and accepts one peer on ln.
func accept(t *testing.T, ln *mq.Channel) *mq.Channel {
	t.Helper()
	ok, err := ln.Wait(soon())
	require.NoError(t, err)
	require.True(t, ok, "no pending connection")
	ch, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

// pair returns a connected client and the server side accepted from a
// listener configured with serverOpts.
func pair(t *testing.T, serverOpts ...mq.Option) (client, server *mq.Channel) {
	t.Helper()
	ln := listen(t, serverOpts...)
	client, err := mq.Connect(loopback, ln.Port(), quiet()...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, accept(t, ln)
}

// rawPeer connects a plain net.Conn to a listener and returns it together
// with the accepted channel.
func rawPeer(t *testing.T, serverOpts ...mq.Option) (net.Conn, *mq.Channel) {
	t.Helper()
	ln := listen(t, serverOpts...)
	conn, err := net.Dial("tcp", net.JoinHostPort(loopback, strconv.Itoa(ln.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, accept(t, ln)
}

// flush writes everything queued on ch.
func flush(t *testing.T, ch *mq.Channel) {
	t.Helper()
	ok, err := ch.Flush(soon())
	require.NoError(t, err)
	require.True(t, ok, "flush timed out")
}

// recv drives ch until a message completes and counts partial returns.
func recv(t *testing.T, ch *mq.Channel) (kind api.MessageKind, n int64, partial int) {
	t.Helper()
	end := soon()
	for time.Now().Before(end) {
		kind, n, err := ch.Recv()
		if err == nil {
			return kind, n, partial
		}
		require.True(t, api.IsPending(err), "recv: %v", err)
		if errors.Is(err, iox.ErrMore) {
			partial++
		}
		_, err = ch.Wait(end)
		require.NoError(t, err)
	}
	t.Fatal("message did not complete")
	return
}

// recvErr polls ch until Recv stops reporting pending progress.
func recvErr(t *testing.T, ch *mq.Channel) error {
	t.Helper()
	var bo iox.Backoff
	end := soon()
	for time.Now().Before(end) {
		_, _, err := ch.Recv()
		if err != nil && !api.IsPending(err) {
			return err
		}
		require.Error(t, err, "unexpected completion")
		bo.Wait()
	}
	t.Fatal("no error observed")
	return nil
}

func header(kind api.MessageKind, n int64) []byte {
	var b [protocol.HeaderLen]byte
	return protocol.Header{Kind: kind, Length: n}.Encode(&b)
}

//go:build unix

package mq_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/core/buffer"
	"github.com/momentics/hioload-mq/mq"
)

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func tempFile(t *testing.T, name string, data []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestBufferRoundTrip(t *testing.T) {
	client, server := pair(t)

	msg := []byte("test message")
	require.NoError(t, client.SendBuffer(msg))
	copy(msg, "XXXX") // the channel holds its own copy
	flush(t, client)

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))
	kind, n, _ := recv(t, server)
	assert.Equal(t, api.MsgBuffer, kind)
	assert.EqualValues(t, 12, n)
	assert.Equal(t, "test message", dst.String())
}

func TestEmptyBuffer(t *testing.T) {
	client, server := pair(t)
	require.NoError(t, client.SendBuffer(nil))
	require.NoError(t, client.SendBuffer([]byte("after")))
	flush(t, client)

	empty, next := buffer.New(0), buffer.New(0)
	require.NoError(t, server.StoreBuffer(empty))
	require.NoError(t, server.StoreBuffer(next))

	kind, n, _ := recv(t, server)
	assert.Equal(t, api.MsgBuffer, kind)
	assert.Zero(t, n)
	assert.Zero(t, empty.Len())

	_, n, _ = recv(t, server)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "after", next.String())
}

func TestStreamRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()
	client, server := pair(t)

	content := pattern(300 << 10)
	src := tempFile(t, "source.dat", content)
	out, err := os.Create(filepath.Join(t.TempDir(), "dest.dat"))
	require.NoError(t, err)
	defer out.Close()

	require.NoError(t, client.SendStream(src))
	require.NoError(t, server.StoreStream(out))

	var eg errgroup.Group
	eg.Go(func() error {
		_, err := client.Flush(soon())
		return err
	})
	kind, n, _ := recv(t, server)
	require.NoError(t, eg.Wait())

	assert.Equal(t, api.MsgStream, kind)
	assert.EqualValues(t, len(content), n)
	got, err := os.ReadFile(out.Name())
	require.NoError(t, err)
	if !bytes.Equal(content, got) {
		t.Fatalf("destination differs from source: %d vs %d bytes", len(got), len(content))
	}
}

func TestStreamFromOffset(t *testing.T) {
	client, server := pair(t)
	src := tempFile(t, "offset.txt", []byte("skip:payload"))
	_, err := src.Seek(5, io.SeekStart)
	require.NoError(t, err)

	require.NoError(t, client.SendStream(src))
	flush(t, client)

	var dst bytes.Buffer
	require.NoError(t, server.StoreStream(&dst))
	kind, n, _ := recv(t, server)
	assert.Equal(t, api.MsgStream, kind)
	assert.EqualValues(t, 7, n)
	assert.Equal(t, "payload", dst.String())
}

func TestStreamFromReader(t *testing.T) {
	client, server := pair(t)
	require.NoError(t, client.SendStream(strings.NewReader("known length in memory")))
	require.NoError(t, client.SendStreamN(strings.NewReader("exactly-this-and-not-more"), 12))
	flush(t, client)

	var first, second bytes.Buffer
	require.NoError(t, server.StoreStream(&first))
	require.NoError(t, server.StoreStream(&second))
	_, n, _ := recv(t, server)
	assert.EqualValues(t, 22, n)
	_, n, _ = recv(t, server)
	assert.EqualValues(t, 12, n)

	got := []string{first.String(), second.String()}
	want := []string{"known length in memory", "exactly-this"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("streams (-want +got):\n%s", diff)
	}
}

func TestStreamFromPipe(t *testing.T) {
	client, server := pair(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	queued := make(chan error, 1)
	go func() { queued <- client.SendStream(r) }()
	select {
	case err := <-queued:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendStream blocked on an open pipe")
	}
	require.NoError(t, client.SendBuffer([]byte("after")))

	// The header waits for EOF, and the buffer queued behind it waits too.
	ok, err := client.Flush(time.Now().Add(30 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
	out, _ := client.Pending()
	assert.Equal(t, 2, out)

	_, err = w.Write([]byte("piped "))
	require.NoError(t, err)
	ok, err = client.Flush(time.Now().Add(30 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	flush(t, client)

	var stream bytes.Buffer
	dst := buffer.New(0)
	require.NoError(t, server.StoreStream(&stream))
	require.NoError(t, server.StoreBuffer(dst))
	kind, n, _ := recv(t, server)
	assert.Equal(t, api.MsgStream, kind)
	assert.EqualValues(t, 10, n)
	assert.Equal(t, "piped data", stream.String())
	kind, _, _ = recv(t, server)
	assert.Equal(t, api.MsgBuffer, kind)
	assert.Equal(t, "after", dst.String())
}

func TestStreamRejectsUnsizedReader(t *testing.T) {
	client, server := pair(t)
	err := client.SendStream(io.MultiReader(strings.NewReader("no length")))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	out, _ := client.Pending()
	assert.Zero(t, out)

	require.NoError(t, client.SendStreamN(io.MultiReader(strings.NewReader("no length")), 9))
	flush(t, client)
	var dst bytes.Buffer
	require.NoError(t, server.StoreStream(&dst))
	recv(t, server)
	assert.Equal(t, "no length", dst.String())
}

func TestShortStreamFailsChannel(t *testing.T) {
	client, server := pair(t)
	var dst bytes.Buffer
	require.NoError(t, server.StoreStream(&dst))

	require.NoError(t, client.SendStreamN(strings.NewReader("abc"), 10))
	ok, err := client.Flush(soon())
	assert.False(t, ok)
	assert.ErrorIs(t, err, api.ErrIO)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, api.RoleClosed, client.Role())
	assert.Equal(t, -1, client.FD())

	_, err = client.Flush(soon())
	assert.ErrorIs(t, err, api.ErrState)
	assert.ErrorIs(t, client.SendBuffer([]byte("x")), api.ErrState)

	// The peer sees the connection end mid-body.
	assert.ErrorIs(t, recvErr(t, server), api.ErrIO)
	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrState)
}

func TestOrderPreserved(t *testing.T) {
	client, server := pair(t)
	want := []string{"first", "second", "third"}
	for _, m := range want {
		require.NoError(t, client.SendBuffer([]byte(m)))
	}
	flush(t, client)

	var got []string
	for range want {
		dst := buffer.New(0)
		require.NoError(t, server.StoreBuffer(dst))
		kind, _, _ := recv(t, server)
		require.Equal(t, api.MsgBuffer, kind)
		got = append(got, dst.String())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestLargeBufferPartialProgress(t *testing.T) {
	defer leaktest.Check(t)()
	client, server := pair(t, mq.WithChunkSize(16<<10))

	payload := pattern(8 << 20)
	require.NoError(t, client.SendBuffer(payload))
	out, in := client.Pending()
	assert.Equal(t, 1, out)
	assert.Zero(t, in)

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))

	var eg errgroup.Group
	eg.Go(func() error {
		_, err := client.Flush(soon())
		return err
	})
	kind, n, partial := recv(t, server)
	require.NoError(t, eg.Wait())

	assert.Equal(t, api.MsgBuffer, kind)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, len(payload), dst.Len())
	assert.True(t, bytes.Equal(payload, dst.Bytes()), "payload corrupted")
	t.Logf("completed after %d partial receives", partial)

	out, _ = client.Pending()
	assert.Zero(t, out)
}

func TestWaitTimeoutKeepsPartialMessage(t *testing.T) {
	conn, server := rawPeer(t)
	payload := []byte("resumable payload")
	frame := append(header(api.MsgBuffer, int64(len(payload))), payload...)

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))

	_, err := conn.Write(frame[:5])
	require.NoError(t, err)
	ok, err := server.Wait(soon())
	require.NoError(t, err)
	require.True(t, ok)
	_, in := server.State()
	assert.Equal(t, api.InHeader, in)

	ok, err = server.Wait(time.Now().Add(50 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
	_, in = server.State()
	assert.Equal(t, api.InHeader, in)

	_, err = conn.Write(frame[5:12])
	require.NoError(t, err)
	ok, err = server.Wait(soon())
	require.NoError(t, err)
	require.True(t, ok)
	_, in = server.State()
	assert.Equal(t, api.InBody, in)

	_, _, err = server.Recv()
	assert.ErrorIs(t, err, iox.ErrWouldBlock)
	ok, err = server.Wait(time.Now().Add(50 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = conn.Write(frame[12:])
	require.NoError(t, err)
	kind, n, _ := recv(t, server)
	assert.Equal(t, api.MsgBuffer, kind)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, string(payload), dst.String())
	_, in = server.State()
	assert.Equal(t, api.InIdle, in)
}

func TestUnknownKindClosesChannel(t *testing.T) {
	conn, server := rawPeer(t)
	require.NoError(t, server.StoreBuffer(buffer.New(0)))

	_, err := conn.Write(header(api.MessageKind(7), 3))
	require.NoError(t, err)

	err = recvErr(t, server)
	assert.ErrorIs(t, err, api.ErrIO)
	assert.ErrorIs(t, err, api.ErrBadFrame)
	assert.Equal(t, api.RoleClosed, server.Role())

	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrState)
	assert.ErrorIs(t, server.StoreBuffer(buffer.New(0)), api.ErrState)
}

func TestKindMismatchStrict(t *testing.T) {
	client, server := pair(t)
	require.NoError(t, client.SendStream(strings.NewReader("not a buffer")))
	flush(t, client)

	require.NoError(t, server.StoreBuffer(buffer.New(0)))
	err := recvErr(t, server)
	assert.ErrorIs(t, err, api.ErrKindMismatch)

	// The fault sticks until the caller closes the channel.
	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrKindMismatch)
	assert.Equal(t, api.RoleConnected, server.Role())
	assert.ErrorIs(t, server.Err(), api.ErrKindMismatch)

	require.NoError(t, server.Close())
	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrState)
}

func TestKindMismatchLenient(t *testing.T) {
	client, server := pair(t, mq.WithStrictKinds(false))
	require.NoError(t, client.SendStream(strings.NewReader("stream into buffer")))
	require.NoError(t, client.SendBuffer([]byte("buffer into stream")))
	flush(t, client)

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))
	kind, n, _ := recv(t, server)
	assert.Equal(t, api.MsgBuffer, kind)
	assert.EqualValues(t, 18, n)
	assert.Equal(t, "stream into buffer", dst.String())

	var w bytes.Buffer
	require.NoError(t, server.StoreStream(&w))
	kind, _, _ = recv(t, server)
	assert.Equal(t, api.MsgStream, kind)
	assert.Equal(t, "buffer into stream", w.String())
}

func TestQueueLimit(t *testing.T) {
	ln := listen(t)
	client, err := mq.Connect(loopback, ln.Port(), quiet(mq.WithQueueLimit(2))...)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendBuffer([]byte("one")))
	require.NoError(t, client.SendBuffer([]byte("two")))
	err = client.SendBuffer([]byte("three"))
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.True(t, api.IsRetryable(err))

	require.NoError(t, client.StoreBuffer(buffer.New(0)))
	require.NoError(t, client.StoreBuffer(buffer.New(0)))
	assert.ErrorIs(t, client.StoreStream(io.Discard), api.ErrQueueFull)

	server := accept(t, ln)
	flush(t, client)
	require.NoError(t, client.SendBuffer([]byte("three")))
	flush(t, client)

	for _, want := range []string{"one", "two", "three"} {
		dst := buffer.New(0)
		require.NoError(t, server.StoreBuffer(dst))
		recv(t, server)
		assert.Equal(t, want, dst.String())
	}
}

func TestNoDestination(t *testing.T) {
	client, server := pair(t)
	require.NoError(t, client.SendBuffer([]byte("unclaimed")))
	flush(t, client)

	err := recvErr(t, server)
	assert.ErrorIs(t, err, api.ErrNoDestination)
	assert.False(t, api.IsRetryable(err))

	// Nothing was consumed.
	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))
	recv(t, server)
	assert.Equal(t, "unclaimed", dst.String())
}

func TestWaitReportsUnclaimedBytes(t *testing.T) {
	client, server := pair(t)
	require.NoError(t, client.SendBuffer([]byte("hello")))
	flush(t, client)

	start := time.Now()
	ok, err := server.Wait(soon())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrNoDestination)

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))
	recv(t, server)
	assert.Equal(t, "hello", dst.String())
}

func TestPeerCloseWithoutDestination(t *testing.T) {
	client, server := pair(t)
	require.NoError(t, client.Close())

	ok, err := server.Wait(soon())
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrIO)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, api.RoleClosed, server.Role())
	_, _, err = server.Recv()
	assert.ErrorIs(t, err, api.ErrState)
}

func TestDiscardUnclaimed(t *testing.T) {
	metrics := control.NewMetricsRegistry()
	client, server := pair(t, mq.WithDiscardUnclaimed(true), mq.WithMetrics(metrics))

	require.NoError(t, client.SendBuffer([]byte("drop me")))
	flush(t, client)

	var bo iox.Backoff
	end := soon()
	for metrics.Counter(control.BytesReceived) < 7 && time.Now().Before(end) {
		_, _, err := server.Recv()
		require.True(t, api.IsPending(err), "recv: %v", err)
		bo.Wait()
	}
	require.EqualValues(t, 7, metrics.Counter(control.BytesReceived))
	_, in := server.Pending()
	assert.Zero(t, in)

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))
	require.NoError(t, client.SendBuffer([]byte("keep")))
	flush(t, client)
	_, n, _ := recv(t, server)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, "keep", dst.String())
	assert.EqualValues(t, 1, metrics.Counter(control.MessagesReceived))
}

func TestStateErrors(t *testing.T) {
	client, server := pair(t)
	ln := listen(t)

	assert.ErrorIs(t, ln.SendBuffer([]byte("x")), api.ErrState)
	assert.ErrorIs(t, ln.StoreBuffer(buffer.New(0)), api.ErrState)
	_, err := server.Accept()
	assert.ErrorIs(t, err, api.ErrState)
	_, err = ln.Flush(soon())
	assert.ErrorIs(t, err, api.ErrState)

	assert.ErrorIs(t, client.StoreBuffer(nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, client.SendStream(nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, client.SendStreamN(strings.NewReader(""), -1), api.ErrInvalidArgument)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, api.RoleClosed, client.Role())
	assert.ErrorIs(t, client.SendBuffer([]byte("x")), api.ErrState)
	_, _, err = client.Recv()
	assert.ErrorIs(t, err, api.ErrState)
	_, err = client.Wait(soon())
	assert.ErrorIs(t, err, api.ErrState)
}

func TestServeBindFailure(t *testing.T) {
	_, err := mq.Serve(loopback, 70000, quiet()...)
	assert.ErrorIs(t, err, api.ErrBind)
	assert.Equal(t, api.ErrCodeBind, api.CodeOf(err))
}

func TestAcceptWithoutPeer(t *testing.T) {
	ln := listen(t)
	_, err := ln.Accept()
	assert.ErrorIs(t, err, api.ErrAccept)
	assert.Equal(t, api.RoleListening, ln.Role())

	ok, err := ln.Wait(time.Now().Add(20 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)

	// A zero deadline polls once.
	start := time.Now()
	ok, err = ln.Wait(time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectRefused(t *testing.T) {
	ln, err := mq.Serve(loopback, 0, quiet()...)
	require.NoError(t, err)
	port := ln.Port()
	require.NoError(t, ln.Close())

	ch, err := mq.Connect(loopback, port, quiet()...)
	if err != nil {
		assert.ErrorIs(t, err, api.ErrConnect)
		return
	}
	defer ch.Close()
	ok, err := ch.Wait(soon())
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = ch.Recv()
	assert.ErrorIs(t, err, api.ErrConnect)
	assert.Equal(t, api.RoleClosed, ch.Role())
}

func TestSendWhileConnecting(t *testing.T) {
	ln := listen(t)
	client, err := mq.Connect(loopback, ln.Port(), quiet()...)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SendBuffer([]byte("early")))

	server := accept(t, ln)
	flush(t, client)
	assert.Equal(t, api.RoleConnected, client.Role())

	dst := buffer.New(0)
	require.NoError(t, server.StoreBuffer(dst))
	recv(t, server)
	assert.Equal(t, "early", dst.String())
}

func TestMetrics(t *testing.T) {
	metrics := control.NewMetricsRegistry()
	ln := listen(t, mq.WithMetrics(metrics))
	client, err := mq.Connect(loopback, ln.Port(), quiet(mq.WithMetrics(metrics))...)
	require.NoError(t, err)
	server := accept(t, ln)

	require.NoError(t, client.SendBuffer([]byte("12345")))
	require.NoError(t, client.SendStream(strings.NewReader("678")))
	flush(t, client)
	require.NoError(t, server.StoreBuffer(buffer.New(0)))
	require.NoError(t, server.StoreStream(io.Discard))
	recv(t, server)
	recv(t, server)
	require.NoError(t, client.Close())

	want := map[string]int64{
		control.MessagesSent:     2,
		control.MessagesReceived: 2,
		control.BytesSent:        8,
		control.BytesReceived:    8,
		control.ChannelsOpened:   3,
		control.ChannelsClosed:   1,
	}
	got := make(map[string]int64)
	for k := range want {
		got[k] = metrics.Counter(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics (-want +got):\n%s", diff)
	}
}

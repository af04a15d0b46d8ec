// File: mq/doc.go
// Package mq
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness-driven message channels over TCP.
//
// A Channel carries two kinds of framed messages between two processes:
// memory buffers and the contents of open streams. All operations except
// Wait and Flush are non-blocking: sends and destination registrations are
// queued, and Recv moves as many bytes as the socket allows, returning
// iox.ErrWouldBlock or iox.ErrMore until the current message is complete.
// A PollGroup multiplexes many channels through one wait call.
//
// Typical use:
//
//	srv, _ := mq.Serve("127.0.0.1", 9000)
//	cli, _ := mq.Connect("127.0.0.1", 9000)
//	cli.SendBuffer([]byte("hello"))
//	srv.Wait(time.Now().Add(time.Second))
//	conn, _ := srv.Accept()
//	var got buffer.Buffer
//	conn.StoreBuffer(&got)
//	for {
//		cli.Wait(time.Now().Add(10 * time.Millisecond))
//		if _, _, err := conn.Recv(); !api.IsPending(err) {
//			break
//		}
//	}
//
// Channels are safe for use from multiple goroutines; PollGroups are not.
package mq

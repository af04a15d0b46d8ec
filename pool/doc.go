// Package pool
// Author: momentics <momentics@gmail.com>
//
// I/O chunk pooling and per-channel FIFO queues.
// BytePool recycles fixed-size transfer chunks; FIFO orders pending sends and
// destination registrations, unbounded (eapache/queue) or bounded (lfq).
package pool

// File: cmd/mqcat/main.go
// Package main
// mqcat moves buffers and files between two hosts over an mq channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/logging"
	"github.com/momentics/hioload-mq/mq"
)

type flags struct {
	Addr       string
	Port       int
	Out        string
	Count      int
	Message    string
	File       string
	Timeout    time.Duration
	QueueLimit int
	ChunkSize  int
	LogLevel   string
}

var log = logging.NewLogger("mqcat")

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:   "mqcat",
		Short: "send and receive mq messages",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.SetLevel(f.LogLevel)
		},
	}
	command.PersistentFlags().StringVarP(&f.Addr, "addr", "a", "127.0.0.1", "Set the address to listen on or connect to.")
	command.PersistentFlags().IntVarP(&f.Port, "port", "p", 9000, "Set the port number.")
	command.PersistentFlags().DurationVarP(&f.Timeout, "timeout", "t", 30*time.Second, "Give up after this long without progress.")
	command.PersistentFlags().IntVar(&f.QueueLimit, "queue-limit", 0, "Bound pending messages per direction (0 = unbounded).")
	command.PersistentFlags().IntVar(&f.ChunkSize, "chunk-size", 64<<10, "Set the stream I/O chunk size in bytes.")
	command.PersistentFlags().StringVar(&f.LogLevel, "log-level", "info", "Set the log level.")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "accept one peer and write the messages it sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(f)
		},
	}
	serve.Flags().StringVarP(&f.Out, "out", "o", "", "Write messages to this file instead of stdout.")
	serve.Flags().IntVarP(&f.Count, "count", "n", 1, "Number of messages to receive.")

	send := &cobra.Command{
		Use:   "send",
		Short: "connect and send a message or a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(f)
		},
	}
	send.Flags().StringVarP(&f.Message, "message", "m", "", "Send this text as a buffer message.")
	send.Flags().StringVarP(&f.File, "file", "f", "", "Send the contents of this file as a stream message.")

	command.AddCommand(serve, send)
	if err := command.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func options(f *flags, metrics *control.MetricsRegistry) []mq.Option {
	return []mq.Option{
		mq.WithQueueLimit(f.QueueLimit),
		mq.WithChunkSize(f.ChunkSize),
		mq.WithLogger(log),
		mq.WithMetrics(metrics),
		// Either kind lands in the output writer.
		mq.WithStrictKinds(false),
	}
}

func runServe(f *flags) error {
	var out io.Writer = os.Stdout
	if f.Out != "" {
		file, err := os.Create(f.Out)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	metrics := control.NewMetricsRegistry()
	ln, err := mq.Serve(f.Addr, f.Port, options(f, metrics)...)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.WithField("port", ln.Port()).Info("listening")

	group, err := mq.NewPollGroup()
	if err != nil {
		return err
	}
	defer group.Close()
	if err := group.Add(ln); err != nil {
		return err
	}

	var peer *mq.Channel
	for peer == nil {
		n, err := group.Wait(time.Now().Add(f.Timeout))
		if err != nil {
			return err
		}
		if n == 0 {
			return api.NewError(api.ErrCodeTimeout, "accept", nil)
		}
		peer, err = ln.Accept()
		if err != nil && !errors.Is(err, api.ErrAccept) {
			return err
		}
	}
	defer peer.Close()
	group.Remove(ln)
	if err := group.Add(peer); err != nil {
		return err
	}
	log.WithField("peer", peer.Peer()).Info("accepted")

	for received := 0; received < f.Count; {
		if err := peer.StoreStream(out); err != nil {
			return err
		}
		for {
			n, err := group.Wait(time.Now().Add(f.Timeout))
			if err != nil {
				return err
			}
			if n == 0 {
				return api.NewError(api.ErrCodeTimeout, "recv", nil)
			}
			kind, length, err := peer.Recv()
			if api.IsPending(err) {
				continue
			}
			if err != nil {
				return err
			}
			received++
			log.WithFields(logrus.Fields{"kind": kind, "length": length}).Info("received")
			break
		}
	}
	log.WithField("bytes", metrics.Counter(control.BytesReceived)).Debug("done")
	return nil
}

func runSend(f *flags) error {
	if (f.Message == "") == (f.File == "") {
		return errors.New("exactly one of --message and --file is required")
	}
	metrics := control.NewMetricsRegistry()
	ch, err := mq.Connect(f.Addr, f.Port, options(f, metrics)...)
	if err != nil {
		return err
	}
	defer ch.Close()

	if f.Message != "" {
		err = ch.SendBuffer([]byte(f.Message))
	} else {
		var file *os.File
		file, err = os.Open(f.File)
		if err != nil {
			return err
		}
		defer file.Close()
		err = ch.SendStream(file)
	}
	if err != nil {
		return err
	}

	ok, err := ch.Flush(time.Now().Add(f.Timeout))
	if err != nil {
		return err
	}
	if !ok {
		return api.NewError(api.ErrCodeTimeout, "send", nil)
	}
	log.WithField("bytes", metrics.Counter(control.BytesSent)).Info("sent")
	return nil
}

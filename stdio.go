package mcpapps

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StdIO is a Port that exchanges newline-delimited JSON messages over an io.Reader and
// io.Writer pair, such as a child process's stdout and stdin. Writes are serialized through a
// single goroutine and inbound lines are delivered to listeners one at a time.
//
// Instances must be created with NewStdIO and released with Close.
type StdIO struct {
	id        string
	reader    io.Reader
	writer    io.Writer
	logger    *logrus.Entry
	listeners listenerList[MessageListener]

	writeMessages chan stdIOMessage
	lines         chan string
	done          chan struct{}
	readClosed    chan struct{}
	writeClosed   chan struct{}
	closeOnce     sync.Once
}

// StdIOOption represents the options for the StdIO port.
type StdIOOption func(*StdIO)

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

// WithStdIOLogger sets the logger for the port.
func WithStdIOLogger(logger *logrus.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger.WithFields(logrus.Fields{"component": "stdio", "port": s.id})
	}
}

// NewStdIO creates a StdIO port reading from reader and writing to writer, and starts its
// reading and writing goroutines.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		id:            uuid.New().String(),
		reader:        reader,
		writer:        writer,
		writeMessages: make(chan stdIOMessage),
		lines:         make(chan string),
		done:          make(chan struct{}),
		readClosed:    make(chan struct{}),
		writeClosed:   make(chan struct{}),
	}
	s.logger = logrus.StandardLogger().WithFields(logrus.Fields{"component": "stdio", "port": s.id})
	for _, opt := range options {
		opt(s)
	}

	go s.readLines()
	go s.processMessages()
	go s.processWriteMessages()

	return s
}

// ID implements Port.
func (s *StdIO) ID() string { return s.id }

// AddMessageListener implements Port.
func (s *StdIO) AddMessageListener(l MessageListener) func() {
	return s.listeners.add(l)
}

// PostMessage writes data as a single line. data must be valid JSON; it is compacted so the
// line framing holds.
func (s *StdIO) PostMessage(ctx context.Context, data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return fmt.Errorf("failed to compact message: %w", err)
	}
	// Append newline to maintain message framing protocol
	buf.WriteByte('\n')

	ioMsg := stdIOMessage{
		msg:  buf.Bytes(),
		errs: make(chan error, 1),
	}

	// Queue the message for sending to avoid interleaved writes.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrPortClosed
	case s.writeMessages <- ioMsg:
	}

	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.WithError(err).Error("failed to write message")
			return fmt.Errorf("failed to write message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrPortClosed
	}
}

// Close stops both goroutines that serve listeners and writes. The reader is not closed; a
// blocked read ends when the underlying stream does.
func (s *StdIO) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.readClosed
	<-s.writeClosed
	return nil
}

func (s *StdIO) readLines() {
	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			select {
			case s.lines <- line:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.WithError(err).Error("failed to read message")
			}
			return
		}
	}
}

func (s *StdIO) processMessages() {
	defer close(s.readClosed)

	select {
	case <-s.listeners.attached():
	case <-s.done:
		return
	}

	for {
		var line string
		select {
		case <-s.done:
			return
		case line = <-s.lines:
		}

		for _, l := range s.listeners.snapshot() {
			l([]byte(line))
		}
	}
}

func (s *StdIO) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)
		msg.errs <- err
	}
}

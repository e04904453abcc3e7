package toolbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport using newline-delimited
// frames over an io.Reader/io.Writer pair. It provides a single persistent
// session and handles bidirectional message passing through internal
// channels, processing writes sequentially.
//
// Proper initialization requires using the NewStdIO constructor function.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

type stdIOSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeFrames chan stdIOFrame
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type stdIOFrame struct {
	frame []byte
	errs  chan error
}

// NewStdIO creates a new StdIO instance configured with the provided reader
// and writer. The instance is initialized with default logging and the
// internal communication channels it needs.
func NewStdIO(reader io.Reader, writer io.Writer) StdIO {
	return StdIO{
		sess: stdIOSession{
			id:          uuid.New().String(),
			reader:      reader,
			writer:      writer,
			logger:      slog.Default(),
			writeFrames: make(chan stdIOFrame),
			done:        make(chan struct{}),
			readClosed:  make(chan struct{}),
			writeClosed: make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
}

// Sessions implements the ServerTransport interface by yielding the single
// persistent session. The session remains active for the lifetime of the
// StdIO instance.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteFrames()

		// StdIO only supports a single session, so yield it and wait until it's done.
		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the
// session loop to end.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// Stop closes the session and releases both pump goroutines.
func (s stdIOSession) Stop() {
	close(s.done)
	<-s.readClosed
	<-s.writeClosed
}

func (s stdIOSession) ID() string {
	return s.id
}

func (s stdIOSession) Send(ctx context.Context, frame []byte) error {
	// Append newline to maintain message framing.
	framed := make([]byte, 0, len(frame)+1)
	framed = append(framed, frame...)
	framed = append(framed, '\n')

	ioFrame := stdIOFrame{
		frame: framed,
		errs:  make(chan error, 1),
	}

	// Queue the frame so concurrent senders never interleave partial writes.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("session is closed")
	case s.writeFrames <- ioFrame:
	}

	select {
	case err := <-ioFrame.errs:
		if err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("session is closed")
	}
}

func (s stdIOSession) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		defer close(s.readClosed)

		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr, 1)

			// Read on a goroutine so a blocked reader doesn't prevent
			// reacting to the done channel.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					lines <- lineWithErr{err: err}
					return
				}
				lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if !errors.Is(lwe.err, io.EOF) {
					s.logger.Error("failed to read frame", "err", lwe.err)
				}
				return
			}

			if lwe.line == "" {
				continue
			}

			if !yield([]byte(lwe.line)) {
				return
			}
		}
	}
}

func (s stdIOSession) processWriteFrames() {
	defer close(s.writeClosed)

	for {
		var f stdIOFrame
		select {
		case <-s.done:
			return
		case f = <-s.writeFrames:
		}

		_, err := s.writer.Write(f.frame)

		f.errs <- err
	}
}

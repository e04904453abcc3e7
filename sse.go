package toolbus

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a framework-agnostic Server-Sent Events transport.
// Server-to-client traffic streams over SSE; client-to-server frames arrive
// as HTTP POSTs on a per-session message endpoint.
//
// The HandleSSE and HandleMessage handlers can be mounted on any HTTP mux.
// Instances should be created with NewSSEServer and shut down with Shutdown.
type SSEServer struct {
	messageURL string
	logger     *slog.Logger

	sessions        chan sseSession
	removedSessions chan string
	receivedFrames  chan sseSessionFrame

	done   chan struct{}
	closed chan struct{}
}

type sseSession struct {
	id     string
	sess   *sse.Session
	logger *slog.Logger

	sendFrames     chan sseSendFrame
	receivedFrames chan []byte

	done           chan struct{}
	sendClosed     chan struct{}
	receivedClosed chan struct{}
}

type sseSessionFrame struct {
	sessID string
	frame  []byte
}

type sseSendFrame struct {
	msg  *sse.Message
	errs chan<- error
}

// NewSSEServer creates an SSE transport whose clients post frames to
// messageURL. The returned transport is immediately usable; its handlers
// still need to be mounted by the caller.
func NewSSEServer(messageURL string) SSEServer {
	return SSEServer{
		messageURL:      messageURL,
		logger:          slog.Default(),
		sessions:        make(chan sseSession, 5),
		removedSessions: make(chan string),
		receivedFrames:  make(chan sseSessionFrame),
		done:            make(chan struct{}),
		closed:          make(chan struct{}),
	}
}

// Sessions returns an iterator over client sessions, yielding a new Session
// for every accepted SSE connection.
func (s SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		// Track active sessions so posted frames can be routed by session ID.
		sessionsMap := make(map[string]sseSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				go sess.processSendFrames()

				sessionsMap[sess.id] = sess

				if !yield(sess) {
					return
				}
			case sessID := <-s.removedSessions:
				delete(sessionsMap, sessID)
			case f := <-s.receivedFrames:
				session, ok := sessionsMap[f.sessID]
				if !ok {
					// The session might already be closed; drop the frame.
					continue
				}

				select {
				case <-s.done:
					return
				case session.receivedFrames <- f.frame:
				}
			}
		}
	}
}

// Shutdown gracefully shuts down the SSE transport, ending the Sessions
// iteration. It blocks until the main loop exits.
func (s SSEServer) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE transport: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for establishing SSE connections over
// GET. The handler upgrades the connection, assigns a unique session ID, and
// tells the client its message endpoint. The connection stays open until the
// client disconnects or the transport shuts down.
func (s SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		// Tell the client where to post frames for this session.
		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(endpoint)
		if err := sess.Send(&msg); err != nil {
			nErr := fmt.Errorf("failed to write SSE endpoint: %w", err)
			s.logger.Error("failed to write SSE endpoint", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}
		if err := sess.Flush(); err != nil {
			nErr := fmt.Errorf("failed to flush SSE: %w", err)
			s.logger.Error("failed to flush SSE", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		srvSession := sseSession{
			id:             sessID,
			sess:           sess,
			logger:         s.logger,
			sendFrames:     make(chan sseSendFrame, 5),
			receivedFrames: make(chan []byte, 5),
			done:           make(chan struct{}),
			sendClosed:     make(chan struct{}),
			receivedClosed: make(chan struct{}),
		}

		// Hand the session to the Sessions loop so the engine picks it up.
		select {
		case <-s.done:
			return
		case s.sessions <- srvSession:
		}

		// Block to keep the connection open until the session closes.
		<-srvSession.sendClosed
		<-srvSession.receivedClosed

		select {
		case s.removedSessions <- sessID:
		case <-s.done:
		}
	})
}

// HandleMessage returns an http.Handler for client frames posted to the
// message endpoint. The handler expects a sessionID query parameter and
// forwards the raw body to the matching session's message stream; envelope
// validity is the engine's concern, not the transport's.
func (s SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		frame, err := io.ReadAll(r.Body)
		if err != nil {
			nErr := fmt.Errorf("failed to read frame: %w", err)
			s.logger.Warn("failed to read frame", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		select {
		case <-s.done:
			return
		case s.receivedFrames <- sseSessionFrame{sessID: sessID, frame: frame}:
		}
	})
}

func (s sseSession) ID() string { return s.id }

func (s sseSession) Send(ctx context.Context, frame []byte) error {
	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(frame))

	errs := make(chan error, 1)

	// Queue the frame so concurrent senders never interleave writes.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session is closed")
	case s.sendFrames <- sseSendFrame{sseMsg, errs}:
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session is closed")
	}
}

func (s sseSession) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		defer close(s.receivedClosed)

		for {
			select {
			case frame := <-s.receivedFrames:
				if !yield(frame) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s sseSession) Stop() {
	close(s.done)

	<-s.sendClosed
	<-s.receivedClosed
}

func (s sseSession) processSendFrames() {
	defer close(s.sendClosed)

	for {
		select {
		case sf := <-s.sendFrames:
			if err := s.sess.Send(sf.msg); err != nil {
				s.logger.Warn("failed to send frame", slog.String("err", err.Error()))

				select {
				case sf.errs <- err:
				default:
				}
				continue
			}
			if err := s.sess.Flush(); err != nil {
				s.logger.Warn("failed to flush frame", slog.String("err", err.Error()))

				select {
				case sf.errs <- err:
				default:
				}
				continue
			}

			select {
			case sf.errs <- nil:
			default:
			}
		case <-s.done:
			return
		}
	}
}

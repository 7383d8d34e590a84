package creative

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Command is a frame sent from the engine to a remote creative runtime.
type Command struct {
	Command string `json:"command"`
	URL     string `json:"url,omitempty"`
}

// Envelope is a frame sent from a remote creative runtime to the engine.
type Envelope struct {
	Message string `json:"message"`
}

// RemoteSurface renders through a creative runtime reached over a websocket.
type RemoteSurface struct {
	conn   *websocket.Conn
	events Events
	logger *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

// RemoteFactory returns a Factory dialing the runtime at wsURL.
func RemoteFactory(wsURL string, logger *zap.Logger) Factory {
	return func(ctx context.Context, events Events) (Surface, error) {
		return DialRemote(ctx, wsURL, events, logger)
	}
}

// DialRemote connects to a creative runtime and starts reading its messages.
func DialRemote(ctx context.Context, wsURL string, events Events, logger *zap.Logger) (*RemoteSurface, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial creative runtime: %w", err)
	}
	s := &RemoteSurface{
		conn:   conn,
		events: events,
		logger: logger.Named("creative"),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *RemoteSurface) readLoop() {
	defer close(s.done)
	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if s.isClosed() {
				return
			}
			s.logger.Warn("creative runtime disconnected", zap.Error(err))
			s.events.OnFailure(fmt.Errorf("creative runtime: %w", err))
			return
		}
		s.events.OnMessage(ParseMessage(env.Message), env.Message)
	}
}

func (s *RemoteSurface) send(cmd Command) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(cmd)
}

// Load asks the runtime to load the creative at url.
func (s *RemoteSurface) Load(_ context.Context, url string) error {
	return s.send(Command{Command: "load", URL: url})
}

// Attach tells the runtime the creative is on screen.
func (s *RemoteSurface) Attach(Host) error {
	return s.send(Command{Command: "attach"})
}

// Play starts the creative.
func (s *RemoteSurface) Play() error {
	return s.send(Command{Command: "play"})
}

// Close notifies the runtime and closes the connection.
func (s *RemoteSurface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteJSON(Command{Command: "close"})
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// Done is closed once the read loop has exited.
func (s *RemoteSurface) Done() <-chan struct{} {
	return s.done
}

func (s *RemoteSurface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

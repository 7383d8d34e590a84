package creative

import (
	"context"
	"errors"
	"sync"
)

// Script configures a ScriptedSurface. Empty messages are not posted.
type Script struct {
	OnLoad    []string // posted after Load
	OnPlay    []string // posted after Play
	LoadErr   error    // returned by Load
	AttachErr error    // returned by Attach
	FailLoad  error    // reported through OnFailure after Load
}

// ScriptedSurface is an in-process Surface that replays a fixed script. It
// backs the sandbox and tests.
type ScriptedSurface struct {
	script Script
	events Events

	mu       sync.Mutex
	loaded   []string
	attached bool
	played   bool
	closed   bool
}

// ScriptedFactory returns a Factory producing surfaces that follow script.
// A non-nil err makes every build fail.
func ScriptedFactory(script Script, err error) Factory {
	return func(_ context.Context, events Events) (Surface, error) {
		if err != nil {
			return nil, err
		}
		return NewScriptedSurface(script, events), nil
	}
}

// NewScriptedSurface creates a surface reporting to events.
func NewScriptedSurface(script Script, events Events) *ScriptedSurface {
	return &ScriptedSurface{script: script, events: events}
}

func (s *ScriptedSurface) post(msgs []string) {
	for _, raw := range msgs {
		s.events.OnMessage(ParseMessage(raw), raw)
	}
}

// Load records url and posts the load script asynchronously.
func (s *ScriptedSurface) Load(_ context.Context, url string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loaded = append(s.loaded, url)
	s.mu.Unlock()
	if s.script.LoadErr != nil {
		return s.script.LoadErr
	}
	go func() {
		if s.script.FailLoad != nil {
			s.events.OnFailure(s.script.FailLoad)
			return
		}
		s.post(s.script.OnLoad)
	}()
	return nil
}

// Attach marks the surface as presented.
func (s *ScriptedSurface) Attach(Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.script.AttachErr != nil {
		return s.script.AttachErr
	}
	s.attached = true
	return nil
}

// Play posts the play script asynchronously.
func (s *ScriptedSurface) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.attached {
		return errors.New("play before attach")
	}
	s.played = true
	go s.post(s.script.OnPlay)
	return nil
}

// Close marks the surface closed.
func (s *ScriptedSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Post injects a raw message as if the creative had sent it.
func (s *ScriptedSurface) Post(raw string) {
	s.events.OnMessage(ParseMessage(raw), raw)
}

// Fail injects a rendering failure.
func (s *ScriptedSurface) Fail(err error) {
	s.events.OnFailure(err)
}

// Loaded returns the URLs passed to Load.
func (s *ScriptedSurface) Loaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loaded...)
}

// Closed reports whether Close was called.
func (s *ScriptedSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

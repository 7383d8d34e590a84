package creative

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a surface that was torn down.
var ErrClosed = errors.New("creative surface closed")

// Host is the platform container a surface is presented in. It is opaque to
// the engine.
type Host any

// Events receives everything a surface reports. Implementations must not
// block; surfaces call them from their own goroutines.
type Events interface {
	// OnMessage is called for every message the creative posts, including
	// unrecognised ones.
	OnMessage(msg Message, raw string)
	// OnFailure is called when the surface can no longer render.
	OnFailure(err error)
}

// Surface renders one creative.
type Surface interface {
	// Load starts loading the creative at url. Completion is reported through
	// Events as a ready signal or a failure.
	Load(ctx context.Context, url string) error
	// Attach presents the surface in host.
	Attach(host Host) error
	// Play starts playback once attached.
	Play() error
	// Close tears the surface down. It is safe to call more than once.
	Close() error
}

// Factory builds a surface reporting to events. It is called on the session
// controller's loop, so it must return once ctx is done. ctx only bounds
// construction; the surface outlives it.
type Factory func(ctx context.Context, events Events) (Surface, error)

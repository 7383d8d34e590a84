package mediation

import (
	"context"
	"errors"
	"net/url"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/adserver"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/session"
)

// ErrorCode classifies failures reported to the mediation platform.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeInternal
	CodeInvalidConfig
	CodeNoFill
	CodeNetwork
	CodeRender
	CodeNotReady
	CodeSessionActive
)

func codeFor(err error) ErrorCode {
	var urlErr *url.Error
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrMissingAppID), errors.Is(err, ErrNotInitialized):
		return CodeInvalidConfig
	// a malformed decision is reported like a no-fill; only the log differs
	case errors.Is(err, session.ErrNoFill), errors.Is(err, session.ErrInvalidResponse):
		return CodeNoFill
	case errors.Is(err, session.ErrSurfaceUnavailable):
		return CodeRender
	case errors.Is(err, session.ErrNotReady):
		return CodeNotReady
	case errors.Is(err, session.ErrSessionActive):
		return CodeSessionActive
	case errors.Is(err, adserver.ErrUnexpectedStatus),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &urlErr):
		return CodeNetwork
	}
	return CodeInternal
}

// Delegate receives mediation callbacks. Failure callbacks carry a code and
// a human-readable message.
type Delegate interface {
	DidLoad(kind models.AdKind)
	DidFailToLoad(kind models.AdKind, code ErrorCode, message string)
	DidOpen(kind models.AdKind)
	DidFailToShow(kind models.AdKind, code ErrorCode, message string)
	DidClose(kind models.AdKind)
	DidClick(kind models.AdKind)
	DidReward(kind models.AdKind)
}

// kindListener forwards one controller's callbacks to the delegate.
type kindListener struct {
	kind     models.AdKind
	delegate Delegate
}

var _ session.Listener = (*kindListener)(nil)

func (l *kindListener) OnLoadSucceeded() { l.delegate.DidLoad(l.kind) }
func (l *kindListener) OnLoadFailed(err error) {
	l.delegate.DidFailToLoad(l.kind, codeFor(err), err.Error())
}
func (l *kindListener) OnDisplayed() { l.delegate.DidOpen(l.kind) }
func (l *kindListener) OnShowFailed(err error) {
	l.delegate.DidFailToShow(l.kind, CodeRender, err.Error())
}
func (l *kindListener) OnClosed()   { l.delegate.DidClose(l.kind) }
func (l *kindListener) OnClicked()  { l.delegate.DidClick(l.kind) }
func (l *kindListener) OnRewarded() { l.delegate.DidReward(l.kind) }

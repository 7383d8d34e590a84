package models

import "fmt"

// AdKind identifies the full-screen ad format served by a session.
type AdKind string

const (
	AdKindInterstitial AdKind = "interstitial"
	AdKindRewarded     AdKind = "rewarded"
)

// IsInterstitial reports whether the kind is an interstitial.
func (k AdKind) IsInterstitial() bool {
	return k == AdKindInterstitial
}

// ParseAdKind converts a raw string into an AdKind.
func ParseAdKind(s string) (AdKind, error) {
	switch AdKind(s) {
	case AdKindInterstitial, AdKindRewarded:
		return AdKind(s), nil
	}
	return "", fmt.Errorf("unknown ad kind %q", s)
}

// AdStatus is the status field of an ad server response.
type AdStatus string

const (
	AdStatusOK     AdStatus = "OK"
	AdStatusNoFill AdStatus = "NO_FILL"
)

// AdResponse is the body returned by the ads endpoint for a fetch request.
type AdResponse struct {
	Status AdStatus `json:"status"`
	// ID is the campaign identifier. Only present when Status is OK.
	ID string `json:"id,omitempty"`
}

// Package creative defines the rendering surface that hosts an ad creative
// and the messages a creative posts back to the engine.
package creative

import "strings"

// Message is a closed enumeration of creative-to-engine messages.
type Message int

const (
	Unknown Message = iota
	AssetsLoaded
	VideoLoaded
	ImagesLoaded
	CloseAd
	TimerCompleted
	Click
)

var messageNames = map[Message]string{
	Unknown:        "UNKNOWN",
	AssetsLoaded:   "ASSETS_LOADED",
	VideoLoaded:    "VIDEO_LOADED",
	ImagesLoaded:   "IMAGES_LOADED",
	CloseAd:        "CLOSE_AD",
	TimerCompleted: "TIMER_COMPLETED",
	Click:          "CLICK",
}

var messagesByName = func() map[string]Message {
	m := make(map[string]Message, len(messageNames))
	for k, v := range messageNames {
		if k != Unknown {
			m[v] = k
		}
	}
	return m
}()

func (m Message) String() string {
	if s, ok := messageNames[m]; ok {
		return s
	}
	return messageNames[Unknown]
}

// IsReadySignal reports whether the message means the creative can be shown.
func (m Message) IsReadySignal() bool {
	return m == AssetsLoaded || m == VideoLoaded || m == ImagesLoaded
}

// ParseMessage maps a raw creative message to the enumeration. Surrounding
// whitespace is ignored; anything unrecognised is Unknown.
func ParseMessage(raw string) Message {
	if m, ok := messagesByName[strings.TrimSpace(raw)]; ok {
		return m
	}
	return Unknown
}

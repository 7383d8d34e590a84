package sandbox

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/creative"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/middleware"
)

// CreativeHandler upgrades GET /creative/ws and plays a scripted creative:
// load is answered with ASSETS_LOADED, play with TIMER_COMPLETED and, when
// AutoClose is set, CLOSE_AD.
func (s *Server) CreativeHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("creative upgrade", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	reply := func(msg creative.Message) bool {
		if err := conn.WriteJSON(creative.Envelope{Message: msg.String()}); err != nil {
			logger.Warn("creative write", zap.Error(err))
			return false
		}
		return true
	}

	for {
		var cmd creative.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("creative read", zap.Error(err))
			}
			return
		}
		switch cmd.Command {
		case "load":
			logger.Debug("creative load", zap.String("url", cmd.URL))
			if !reply(creative.AssetsLoaded) {
				return
			}
		case "play":
			if !reply(creative.TimerCompleted) {
				return
			}
			if s.Options.AutoClose && !reply(creative.CloseAd) {
				return
			}
		case "close":
			return
		}
	}
}

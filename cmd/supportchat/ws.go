package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"supportchat/internal/constants"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// handleEvents streams session events over a WebSocket. The first frame
// is the current support status; the stream ends when the session closes.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]

		subCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Subscribe before upgrading so unknown or closed sessions get a
		// normal HTTP error
		sub, err := s.chat.Subscribe(subCtx, sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer sub.Cancel()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.originPatterns(),
		})
		if err != nil {
			s.logger.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		log := s.logger.WithFields(logrus.Fields{
			service.LogFieldSession:   privacy.MaskSessionID(sessionID),
			service.LogFieldComponent: "events",
			"sub_id":                  sub.ID,
		})
		log.Debug("Event stream opened")

		// Clients only listen; CloseRead handles their close frames
		ctx := conn.CloseRead(subCtx)

		status := s.chat.SupportStatus(ctx)
		if err := s.writeEvent(ctx, conn, models.Event{
			Type:      models.EventSupportStatus,
			SessionID: sessionID,
			Timestamp: time.Now().UTC(),
			Support:   &status,
		}); err != nil {
			log.WithError(err).Debug("Event stream write failed")
			return
		}

		ping := time.NewTicker(time.Duration(constants.WebSocketPingIntervalSec) * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Debug("Event stream closed by client")
				return

			case <-ping.C:
				pingCtx, cancelPing := context.WithTimeout(ctx, time.Duration(constants.WebSocketWriteTimeoutSec)*time.Second)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					log.WithError(err).Debug("Event stream ping failed")
					return
				}

			case ev, ok := <-sub.Events:
				if !ok {
					_ = conn.Close(websocket.StatusNormalClosure, "session closed")
					log.Debug("Event stream ended")
					return
				}
				if err := s.writeEvent(ctx, conn, ev); err != nil {
					if !errors.Is(err, context.Canceled) {
						log.WithError(err).Debug("Event stream write failed")
					}
					return
				}
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(constants.WebSocketWriteTimeoutSec)*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// originPatterns converts the CORS allow list into host patterns for the
// WebSocket origin check
func (s *Server) originPatterns() []string {
	var patterns []string
	for _, origin := range allowedOrigins(s.cfg) {
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

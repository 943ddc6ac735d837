/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package oversight

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/acronis/watchtower/log"
)

const wsMaxMessageSize = 512

type activityMessage struct {
	Busy bool `json:"busy"`
}

// activityStream sends {"busy": bool} to the client: the current state right after the connection is established
// and then every busy/idle transition of the tracker. A client that cannot keep up receives the latest state only.
func (h *Handler) activityStream(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logger.Warn("activity stream upgrade failed", log.Error(err)) // Upgrade has already responded
		return
	}
	defer func() { _ = conn.Close() }()

	updates := make(chan bool, 1)
	unsubscribe := h.tracker.Subscribe(func(busy bool) {
		select {
		case updates <- busy:
		default:
			// Transitions are delivered one at a time, so after dropping the stale state there is room for the new one.
			select {
			case <-updates:
			default:
			}
			updates <- busy
		}
	})
	defer unsubscribe()

	wsCfg := h.cfg.WebSocket
	pongWait := 2 * wsCfg.PingInterval
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	send := func(busy bool) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsCfg.WriteTimeout))
		return conn.WriteJSON(activityMessage{Busy: busy})
	}
	if err = send(h.tracker.Busy()); err != nil {
		logger.Warn("failed to send activity state", log.Error(err))
		return
	}

	pingTicker := time.NewTicker(wsCfg.PingInterval)
	defer pingTicker.Stop()
	for {
		select {
		case <-clientGone:
			return
		case busy := <-updates:
			if err = send(busy); err != nil {
				logStreamError(logger, err)
				return
			}
		case <-pingTicker.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsCfg.WriteTimeout)); err != nil {
				logStreamError(logger, err)
				return
			}
		}
	}
}

func logStreamError(logger log.FieldLogger, err error) {
	if errors.Is(err, websocket.ErrCloseSent) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	logger.Warn("activity stream terminated", log.Error(err))
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dialdeck/internal/notify"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

const (
	// eventBuffer is the per-client backlog. A client that falls further
	// behind is disconnected and must refetch state on reconnect.
	eventBuffer = 256

	writeTimeout = 5 * time.Second
)

// handleEvents upgrades to a websocket and streams every settled change as
// one JSON text message. Query parameters narrow the stream:
// channel=twilio and fields=provider,model.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var filter notify.Filter
	q := r.URL.Query()
	if raw := q.Get("channel"); raw != "" {
		ch, err := profile.ParseChannel(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		filter.Channel = ch
	}
	if raw := q.Get("fields"); raw != "" {
		for f := range strings.SplitSeq(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				filter.Fields = append(filter.Fields, profile.Field(f))
			}
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Debug("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Incoming messages are ignored; ctx ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	events := make(chan notify.Change, eventBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	unsubscribe := s.bus.Subscribe(filter, func(c notify.Change) {
		select {
		case events <- c:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	s.metrics.EventSubscribers.Add(ctx, 1)
	defer s.metrics.EventSubscribers.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(r.Context())
	log.Debug("server: event stream opened", "channel", filter.Channel, "fields", len(filter.Fields))

	for {
		select {
		case <-ctx.Done():
			log.Debug("server: event stream closed", "reason", context.Cause(ctx))
			return
		case <-overflow:
			log.Warn("server: event client too slow; disconnecting")
			conn.Close(websocket.StatusTryAgainLater, "event backlog exceeded")
			return
		case c := <-events:
			data, err := json.Marshal(c)
			if err != nil {
				log.Error("server: encode change", "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("server: event write failed", "err", err)
				return
			}
		}
	}
}

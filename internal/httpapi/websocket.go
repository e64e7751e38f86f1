package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"llamacore/internal/scheduler"
	"llamacore/internal/sink"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// CORS middleware governs browser origins
	CheckOrigin: func(*http.Request) bool { return true },
}

// chatWS serves chat completions over one websocket. Each text message is a
// chat request; its events come back as text messages ending in "[DONE]" for
// streams. Requests on a connection run one at a time.
func (s *server) chatWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	conn := sink.NewConn(ws)
	defer conn.Close()
	ws.SetReadLimit(maxBodyBytes)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	log := zlog.With().Str("conn", conn.ID).Logger()
	log.Debug().Msg("ws open")

	msgs := make(chan []byte)
	go func() {
		defer close(msgs)
		defer cancel()
		for {
			mt, msg, err := ws.ReadMessage()
			if err != nil {
				conn.MarkClosed()
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	defaultModel := r.URL.Query().Get("model")
	for msg := range msgs {
		model := modelOf(msg)
		if model == "" {
			model = defaultModel
		}
		req := conn.Request()
		err := s.svc.WithEngine(ctx, model, func(eng *scheduler.Scheduler) error {
			return eng.ChatCompletions(ctx, msg, req)
		})
		if _, engineErr := scheduler.AsError(err); err != nil && !engineErr && ctx.Err() == nil {
			// engine errors were sent by the handler; manager errors were not
			resp := errorResponse(err)
			b, _ := json.Marshal(resp)
			req.Write(sink.Event{Payload: b, Status: resp.Error.Code})
		}
		req.Complete()
		if err != nil {
			log.Debug().Err(err).Msg("ws request failed")
		}
	}
	log.Debug().Msg("ws closed")
}

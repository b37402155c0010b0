package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"

	"github.com/gosuda/custos/internal/domain"
	redisstore "github.com/gosuda/custos/internal/store/redis"
)

// Subscriber is the feed side of the action pub/sub.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub streams the live action feed to WebSocket clients.
type Hub struct {
	feed Subscriber
}

func NewHub(feed Subscriber) *Hub {
	return &Hub{feed: feed}
}

// ServeActions streams actions as they are written. The optional
// protected_type query parameter narrows the stream to one record type and
// repeated kind parameters narrow it to those action kinds.
func (h *Hub) ServeActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var kinds []domain.ActionKind
	for _, k := range q["kind"] {
		kind, err := domain.ParseActionKind(k)
		if err != nil {
			http.Error(w, "invalid kind", http.StatusBadRequest)
			return
		}
		kinds = append(kinds, kind)
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	channel := redisstore.ActionChannel(q.Get("protected_type"))

	messages, cleanup, err := h.feed.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if !wanted(msg, kinds) {
				continue
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}

func wanted(msg []byte, kinds []domain.ActionKind) bool {
	if len(kinds) == 0 {
		return true
	}
	var ev struct {
		Kind domain.ActionKind `json:"kind"`
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		return false
	}
	return slices.Contains(kinds, ev.Kind)
}

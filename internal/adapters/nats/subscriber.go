package natsadapter

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// Subscriber listens for session state snapshots on a shared connection.
type Subscriber struct {
	conn *nats.Conn
}

// NewSubscriber wraps an existing connection.
func NewSubscriber(conn *nats.Conn) *Subscriber {
	return &Subscriber{conn: conn}
}

// SubscribeSessionState delivers every snapshot published for sessionID
// until the returned function is called. Undecodable messages are dropped.
func (s *Subscriber) SubscribeSessionState(sessionID string, handler func(state *domain.SessionState)) (func(), error) {
	sub, err := s.conn.Subscribe(SessionStateSubject(sessionID), func(msg *nats.Msg) {
		var st domain.SessionState
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return
		}
		handler(&st)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

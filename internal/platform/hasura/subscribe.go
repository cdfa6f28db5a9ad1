package hasura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between server messages. Hasura sends a
	// keep-alive every few seconds.
	readWait = 60 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	subprotocol = "graphql-ws"
)

// graphql-ws (subscriptions-transport-ws) message types.
const (
	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgConnectionError = "connection_error"
	msgKeepAlive       = "ka"
	msgStart           = "start"
	msgData            = "data"
	msgError           = "error"
	msgComplete        = "complete"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SnapshotHandler receives the "data" object of every subscription result.
type SnapshotHandler func(data json.RawMessage)

// Subscribe runs a live subscription until ctx is cancelled. Every result
// is passed to handler. Dropped connections are re-established with
// exponential backoff; a server-side error ends the subscription.
func (c *Client) Subscribe(ctx context.Context, query string, variables map[string]any, handler SnapshotHandler, logger *slog.Logger) error {
	delay := reconnectDelay
	for {
		err := c.runSubscription(ctx, query, variables, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var fatal *subscriptionError
		if errors.As(err, &fatal) {
			return err
		}

		logger.Warn("hasura subscription dropped, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// subscriptionError is a server-reported failure that reconnecting will not
// fix.
type subscriptionError struct {
	msg string
}

func (e *subscriptionError) Error() string { return "hasura: subscription: " + e.msg }

// runSubscription drives a single websocket session.
func (c *Client) runSubscription(ctx context.Context, query string, variables map[string]any, handler SnapshotHandler) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{subprotocol},
	}

	header := http.Header{}
	if c.adminSecret != "" {
		header.Set(adminSecretHeader, c.adminSecret)
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("hasura/ws: connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller goes away.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	initPayload := map[string]any{}
	if c.adminSecret != "" {
		initPayload["headers"] = map[string]string{adminSecretHeader: c.adminSecret}
	}
	if err := writeJSON(conn, msgConnectionInit, "", initPayload); err != nil {
		return fmt.Errorf("hasura/ws: init: %w", err)
	}

	startPayload := graphqlRequest{Query: query, Variables: variables}
	started := false
	const subID = "1"

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("hasura/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // Silently drop unparseable messages.
		}

		switch msg.Type {
		case msgConnectionAck:
			if started {
				continue
			}
			if err := writeJSON(conn, msgStart, subID, startPayload); err != nil {
				return fmt.Errorf("hasura/ws: start: %w", err)
			}
			started = true

		case msgKeepAlive:

		case msgData:
			var result graphqlResponse
			if err := json.Unmarshal(msg.Payload, &result); err != nil {
				continue
			}
			if len(result.Errors) > 0 {
				return &subscriptionError{msg: result.Errors[0].Message}
			}
			handler(result.Data)

		case msgError, msgConnectionError:
			return &subscriptionError{msg: string(msg.Payload)}

		case msgComplete:
			return &subscriptionError{msg: "completed by server"}
		}
	}
}

func writeJSON(conn *websocket.Conn, typ, id string, payload any) error {
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		body = b
	}
	data, err := json.Marshal(wsMessage{ID: id, Type: typ, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SubscribeCompletedPuzzles streams the completed puzzles of a group. Each
// snapshot contains the full completed set.
func (c *Client) SubscribeCompletedPuzzles(ctx context.Context, groupID int, fn func([]domain.Puzzle), logger *slog.Logger) error {
	vars := map[string]any{"groupId": groupID}
	return c.Subscribe(ctx, subscribeCompletedPuzzlesForGroup, vars, func(data json.RawMessage) {
		var out struct {
			Puzzles []domain.Puzzle `json:"puzzles"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			logger.Warn("hasura: decode completed puzzles", slog.String("error", err.Error()))
			return
		}
		fn(out.Puzzles)
	}, logger)
}

// SubscribeRemainingWinners streams the remaining winner counts of every
// live puzzle.
func (c *Client) SubscribeRemainingWinners(ctx context.Context, fn func([]domain.PuzzleStatus), logger *slog.Logger) error {
	return c.Subscribe(ctx, subscribeLivePuzzlesRemainingWinners, nil, func(data json.RawMessage) {
		var out struct {
			Puzzles []domain.PuzzleStatus `json:"puzzles"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			logger.Warn("hasura: decode remaining winners", slog.String("error", err.Error()))
			return
		}
		fn(out.Puzzles)
	}, logger)
}

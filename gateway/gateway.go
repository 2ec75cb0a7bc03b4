// Package gateway connects to the chat platform's websocket event stream
// and feeds inbound events to the engine. The stream uses an envelope
// protocol: every envelope is acknowledged by id, message events become
// turns, channel deletions become cascade cleanups.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yujiosaka/ChatIQ/core"
)

// Reconnect backoff bounds.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Handler receives decoded events. The engine satisfies this.
type Handler interface {
	HandleTurn(event core.Event)
	HandleEdit(ctx context.Context, event core.Event) error
	HandleDeletion(ctx context.Context, scope string) error
	HandleOriginDeletion(ctx context.Context, origin string) error
}

// envelope is the wire frame around every payload.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// ack confirms receipt of an envelope.
type ack struct {
	EnvelopeID string `json:"envelope_id"`
}

// payload is the union of event payloads we consume.
type payload struct {
	Type           string           `json:"type"`
	ID             string           `json:"id"`
	WorkspaceID    string           `json:"workspace_id"`
	ChannelID      string           `json:"channel_id"`
	ThreadID       string           `json:"thread_ts"`
	UserID         string           `json:"user_id"`
	Text           string           `json:"text"`
	Timestamp      string           `json:"ts"`
	FileID         string           `json:"file_id"`
	ChannelPrivate bool             `json:"channel_private"`
	Topic          string           `json:"topic"`
	Description    string           `json:"description"`
	Thread         []wireMessage    `json:"thread"`
	Attachments    []wireAttachment `json:"attachments"`
}

type wireMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"`
}

type wireAttachment struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Filetype string `json:"filetype"`
	Data     []byte `json:"data"`
}

// Client consumes the event stream. Create with NewClient, then Run.
type Client struct {
	url     string
	handler Handler
	dialer  *websocket.Dialer
	log     *zap.Logger

	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewClient creates a client for the given websocket URL.
func NewClient(url string, handler Handler, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:         url,
		handler:     handler,
		dialer:      websocket.DefaultDialer,
		log:         log,
		backoffBase: reconnectBase,
		backoffMax:  reconnectMax,
	}
}

// Run connects and consumes envelopes until ctx is cancelled, reconnecting
// with capped exponential backoff on any connection failure. A successful
// connection resets the backoff so a long-lived stream that drops once does
// not pay for failures from hours earlier.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.backoffBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.backoffBase
		}
		c.log.Warn("event stream disconnected",
			zap.Duration("reconnect_in", backoff),
			zap.Error(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.backoffMax {
			backoff = c.backoffMax
		}
	}
}

// consume holds one connection open and dispatches its envelopes. The
// returned bool reports whether the dial succeeded.
func (c *Client) consume(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	c.log.Info("event stream connected", zap.String("url", c.url))

	// Unblock the read loop when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read envelope: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed envelope skipped", zap.Error(err))
			continue
		}
		if env.EnvelopeID != "" {
			if err := conn.WriteJSON(ack{EnvelopeID: env.EnvelopeID}); err != nil {
				return true, fmt.Errorf("ack envelope: %w", err)
			}
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env envelope) {
	switch env.Type {
	case "hello", "disconnect":
		return
	case "events_api":
	default:
		c.log.Debug("unhandled envelope type", zap.String("type", env.Type))
		return
	}

	var p payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.log.Warn("malformed payload skipped", zap.Error(err))
		return
	}

	switch p.Type {
	case "message":
		c.handler.HandleTurn(eventFromPayload(p))
	case "message_changed":
		if err := c.handler.HandleEdit(ctx, eventFromPayload(p)); err != nil {
			c.log.Error("edit re-ingest failed",
				zap.String("channel", p.ChannelID),
				zap.Error(err))
		}
	case "message_deleted":
		origin := p.ID
		if origin == "" {
			origin = p.Timestamp
		}
		if err := c.handler.HandleOriginDeletion(ctx, origin); err != nil {
			c.log.Error("message cleanup failed",
				zap.String("origin", origin),
				zap.Error(err))
		}
	case "file_deleted":
		if err := c.handler.HandleOriginDeletion(ctx, p.FileID); err != nil {
			c.log.Error("file cleanup failed",
				zap.String("origin", p.FileID),
				zap.Error(err))
		}
	case "channel_deleted":
		if err := c.handler.HandleDeletion(ctx, p.ChannelID); err != nil {
			c.log.Error("channel cleanup failed",
				zap.String("channel", p.ChannelID),
				zap.Error(err))
		}
	default:
		c.log.Debug("unhandled event type", zap.String("type", p.Type))
	}
}

func eventFromPayload(p payload) core.Event {
	id := p.ID
	if id == "" {
		// The platform uses the raw timestamp as the message id.
		id = p.Timestamp
	}
	event := core.Event{
		MessageID:      id,
		ChannelID:      p.ChannelID,
		ThreadID:       p.ThreadID,
		AuthorID:       p.UserID,
		Text:           p.Text,
		Timestamp:      parseTimestamp(p.Timestamp),
		ChannelPrivate: p.ChannelPrivate,
		Topic:          p.Topic,
		Description:    p.Description,
	}
	for _, m := range p.Thread {
		event.Thread = append(event.Thread, core.Message{
			ID:        m.ID,
			AuthorID:  m.UserID,
			Text:      m.Text,
			Timestamp: parseTimestamp(m.Timestamp),
		})
	}
	for _, a := range p.Attachments {
		event.Attachments = append(event.Attachments, core.Attachment{
			ID:       a.ID,
			Kind:     core.AttachmentKind(a.Kind),
			URL:      a.URL,
			Filename: a.Filename,
			Filetype: a.Filetype,
			Data:     a.Data,
		})
	}
	return event
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

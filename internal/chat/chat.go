package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/namikmesic/tenant-session/internal/api"
	"github.com/namikmesic/tenant-session/internal/stream"
	"github.com/rs/zerolog/log"
)

const conversationsPath = "/chat/conversations"

// ErrEmptyMessage is returned when SendMessage is called with blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// Client talks to the chat assistant endpoints.
type Client struct {
	api *api.Client
}

func New(c *api.Client) *Client {
	return &Client{api: c}
}

func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	return api.Send[Conversation](ctx, c.api, http.MethodPost, conversationsPath, createConversationRequest{Title: title})
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	return api.Send[[]Conversation](ctx, c.api, http.MethodGet, conversationsPath, nil)
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	return api.Send[[]Message](ctx, c.api, http.MethodGet, messagesPath(conversationID), nil)
}

// SendMessage posts content and streams the assistant's reply. onEvent, if
// set, sees every event in arrival order; the returned Reply is their fold.
// Error events do not end the stream.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, onEvent func(stream.Event)) (stream.Reply, error) {
	if strings.TrimSpace(content) == "" {
		return stream.Reply{}, ErrEmptyMessage
	}

	start := time.Now()
	session, err := c.api.Stream(ctx, messagesPath(conversationID), sendMessageRequest{Content: content})
	if err != nil {
		return stream.Reply{}, fmt.Errorf("send message: %w", err)
	}

	var events int
	reply, err := session.Drain(func(ev stream.Event) {
		events++
		if onEvent != nil {
			onEvent(ev)
		}
	})

	log.Debug().
		Str("session_id", session.ID.String()).
		Str("conversation_id", conversationID).
		Int("events", events).
		Int("reply_bytes", len(reply.Text)).
		Int("stream_errors", len(reply.Errors)).
		Dur("duration", time.Since(start)).
		Msg("chat stream complete")

	if err != nil {
		return reply, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

func messagesPath(conversationID string) string {
	return conversationsPath + "/" + url.PathEscape(conversationID) + "/messages"
}

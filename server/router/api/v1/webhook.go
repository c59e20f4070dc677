package v1

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chanticle/chanticle/server/pipeline"
	"github.com/chanticle/chanticle/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Chanticle-Signature"

// ChatEventRequest is one message event from the chat platform.
type ChatEventRequest struct {
	EventID   string `json:"event_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// ChatEventResponse acknowledges the event. The chat platform retries
// unacknowledged events, so anything past signature and shape checks
// acks even when downstream processing degrades.
type ChatEventResponse struct {
	OK        bool   `json:"ok"`
	MessageID int32  `json:"message_id,omitempty"`
	Triggered bool   `json:"triggered"`
	EventID   string `json:"event_id,omitempty"`
}

// HandleChatEvent ingests a chat message and, when the bot is
// mentioned, queues a decision pipeline run for it.
// POST /api/v1/events
func (s *APIV1Service) HandleChatEvent(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}
	if !verifySignature(s.Profile.WebhookSecret, body, c.Request().Header.Get(SignatureHeader)) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	event := &ChatEventRequest{}
	if err := json.Unmarshal(body, event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed event payload"})
	}
	if event.ChannelID == "" || strings.TrimSpace(event.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel_id and text are required"})
	}
	if event.Ts == 0 {
		event.Ts = time.Now().Unix()
	}

	mentioned := mentionsBot(event.Text, s.Profile.BotUserID)
	response := &ChatEventResponse{OK: true, EventID: event.EventID}

	message, err := s.Store.CreateMessage(c.Request().Context(), &store.Message{
		ChannelID:  event.ChannelID,
		UserID:     event.UserID,
		Text:       event.Text,
		CreatedTs:  event.Ts,
		MentionBot: mentioned,
	})
	if err != nil {
		slog.Error("failed to ingest chat message",
			"channel_id", event.ChannelID, "event_id", event.EventID, "error", err)
		return c.JSON(http.StatusOK, response)
	}
	response.MessageID = message.ID

	if mentioned {
		query := stripMention(event.Text, s.Profile.BotUserID)
		if query == "" {
			return c.JSON(http.StatusOK, response)
		}
		if err := s.Pool.Enqueue(pipeline.Job{Query: query, ChannelID: event.ChannelID}); err != nil {
			slog.Error("failed to queue pipeline run",
				"channel_id", event.ChannelID, "error", err)
			return c.JSON(http.StatusOK, response)
		}
		response.Triggered = true
	}
	return c.JSON(http.StatusOK, response)
}

// verifySignature checks the webhook HMAC. An empty secret disables
// verification for local development.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func mentionToken(botUserID string) string {
	return "<@" + botUserID + ">"
}

// mentionsBot reports whether the message text mentions the bot.
func mentionsBot(text, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	return strings.Contains(text, mentionToken(botUserID))
}

// stripMention removes the bot mention so the remaining text can serve
// as the pipeline query.
func stripMention(text, botUserID string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, mentionToken(botUserID), ""))
}

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://ntfy.sh"
	publishTimeout = 10 * time.Second
)

// ntfy priorities, 1 (min) through 5 (urgent).
const (
	PriorityLow     = 2
	PriorityDefault = 3
	PriorityHigh    = 4
)

var ErrDisabled = errors.New("notifications disabled")

// Notice is one operator-facing message.
type Notice struct {
	Title    string
	Message  string
	Priority int
	Tags     []string
}

type publishBody struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Notifier publishes notices to an ntfy topic.
type Notifier struct {
	client  *http.Client
	baseURL string
	topic   string
}

// New returns nil when no topic is configured; a nil Notifier drops every notice.
func New(topic string) *Notifier {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured, operator notices disabled")
		return nil
	}

	log.Info().Str("topic", topic).Msg("Ntfy notices enabled")
	return &Notifier{
		client:  &http.Client{Timeout: publishTimeout},
		baseURL: defaultBaseURL,
		topic:   topic,
	}
}

func (n *Notifier) Publish(ctx context.Context, notice Notice) error {
	if n == nil {
		return ErrDisabled
	}

	body, err := json.Marshal(publishBody{
		Topic:    n.topic,
		Title:    notice.Title,
		Message:  notice.Message,
		Priority: notice.Priority,
		Tags:     notice.Tags,
	})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	// ntfy accepts JSON publishes on the root path with the topic in the body.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ntfy responded %d", resp.StatusCode)
	}

	log.Debug().Str("title", notice.Title).Msg("Notice published")
	return nil
}

// Notify publishes on its own goroutine; the tick loop never waits on the network.
func (n *Notifier) Notify(notice Notice) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.Publish(ctx, notice); err != nil {
			log.Warn().Err(err).Str("title", notice.Title).Msg("Failed to publish notice")
		}
	}()
}

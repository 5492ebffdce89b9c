// Package notify delivers one-way user notifications. Delivery failures are
// logged and swallowed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Notifier is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, metadata map[string]any)
}

// Title renders a message as a notification headline, e.g.
// "download failed" becomes "Download Failed".
func Title(message string) string {
	return cases.Title(language.AmericanEnglish).String(strings.TrimSpace(message))
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "notify"))
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID uuid.UUID, message string, metadata map[string]any) {
	n.logger.InfoContext(ctx, "Notification", "user_id", userID, "title", Title(message), "metadata", metadata)
}

type webhookPayload struct {
	UserID   uuid.UUID      `json:"user_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// WebhookNotifier POSTs each notification as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

func NewWebhookNotifier(url string, client *http.Client, logger *slog.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "notify"))
	}
	return &WebhookNotifier{url: url, http: client, logger: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID uuid.UUID, message string, metadata map[string]any) {
	body, err := json.Marshal(webhookPayload{
		UserID:   userID,
		Title:    Title(message),
		Message:  message,
		Metadata: metadata,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		n.logger.Warn("Failed to encode notification", "error", err)
		return
	}

	// detached so a finished request context does not drop the delivery
	ctx = context.WithoutCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Warn("Notification delivery failed", "user_id", userID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("Notification rejected", "user_id", userID, "status", resp.StatusCode)
	}
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID uuid.UUID, message string, metadata map[string]any) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, userID, message, metadata)
		}
	}
}

// Recorder keeps notifications in memory. Tests use it to observe what
// would have been sent.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

type Event struct {
	UserID   uuid.UUID
	Message  string
	Metadata map[string]any
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(ctx context.Context, userID uuid.UUID, message string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{UserID: userID, Message: message, Metadata: metadata})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

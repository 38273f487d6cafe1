package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rowjay/logfetch/internal/config"
)

// Event describes the end of a run.
type Event struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Container   string    `json:"container"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Records     int       `json:"records"`
	Transferred int64     `json:"transferred"`
	Skipped     int64     `json:"skipped"`
	Failed      int64     `json:"failed"`
	Bytes       int64     `json:"bytes"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Duration    string    `json:"duration"`
	Error       string    `json:"error,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every target and returns the last error seen.
type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return post(ctx, "webhook "+w.Name, w.URL, body, w.Headers)
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	text := fmt.Sprintf("[%s] %s", event.Status, event.Message)
	if event.Error != "" {
		text += "\n" + event.Error
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return post(ctx, "mattermost "+m.Name, m.URL, body, nil)
}

// Matrix posts an m.text message into a room through the client-server API.
type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Notify(ctx context.Context, event Event) error {
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d?access_token=%s",
		strings.TrimRight(m.ServerURL, "/"), url.PathEscape(m.RoomID), time.Now().UnixNano(), url.QueryEscape(m.AccessToken))
	text := fmt.Sprintf("[%s] %s", event.Status, event.Message)
	if event.Error != "" {
		text += "\n" + event.Error
	}
	body, err := json.Marshal(map[string]any{"msgtype": "m.text", "body": text})
	if err != nil {
		return err
	}
	return post(ctx, "matrix "+m.Name, endpoint, body, nil)
}

func post(ctx context.Context, target, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", target, resp.Status)
	}
	return nil
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

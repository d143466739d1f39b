// Package notify delivers out-of-band completion notices for resumable scan
// jobs. Delivery is fire-and-forget from the job runner's point of view; a
// failed notice is logged, never fatal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

const defaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"

// Expo sends push notifications through the Expo push service.
type Expo struct {
	endpoint string
	httpc    *http.Client
}

// NewExpo creates an Expo notifier. An empty endpoint uses the public Expo
// push API.
func NewExpo(endpoint string) *Expo {
	if endpoint == "" {
		endpoint = defaultExpoEndpoint
	}
	return &Expo{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 15 * time.Second},
	}
}

type expoMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

// ScanDone pushes the completion notice to the device token.
func (e *Expo) ScanDone(ctx context.Context, pushToken string, jobID types.JobID, status types.JobStatus, itemCount int) error {
	if pushToken == "" {
		return nil
	}

	title := "菜單掃描完成"
	body := fmt.Sprintf("已辨識 %d 道菜色，點擊查看結果。", itemCount)
	if status != types.JobCompleted {
		title = "菜單掃描失敗"
		body = "這次掃描沒有成功，請再試一次。"
	}

	payload, err := json.Marshal(expoMessage{
		To:    pushToken,
		Title: title,
		Body:  body,
		Sound: "default",
		Data: map[string]any{
			"job_id": string(jobID),
			"status": string(status),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("expo push %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/backtrue/omakase-app/internal/httpapi"
	"github.com/backtrue/omakase-app/internal/imagestore"
	"github.com/backtrue/omakase-app/internal/knowledge"
	"github.com/backtrue/omakase-app/internal/prompt"
	"github.com/backtrue/omakase-app/internal/scan"
	"github.com/backtrue/omakase-app/internal/state"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

// menuProvider is a canned vision and image model.
type menuProvider struct{}

func (p *menuProvider) ParseMenu(_ context.Context, _ []byte, _, _ string) (vlm.MenuPayload, error) {
	return vlm.MenuPayload{MenuItems: []vlm.MenuPayloadItem{
		{OriginalName: "唐揚げ", TranslatedName: "日式炸雞", Description: "酥脆多汁", IsTop: true},
		{OriginalName: "刺身盛り合わせ", TranslatedName: "綜合生魚片", IsTop: true},
		{OriginalName: "焼き鳥", TranslatedName: "烤雞串"},
	}}, nil
}

func (p *menuProvider) RecognizeDishStrings(_ context.Context, _ []byte, _, _ string) (vlm.DishStrings, error) {
	return vlm.DishStrings{}, nil
}

func (p *menuProvider) Translate(_ context.Context, _ string) (vlm.MenuPayload, error) {
	return vlm.MenuPayload{}, nil
}

func (p *menuProvider) GenerateImage(_ context.Context, _ string) ([]byte, error) {
	return menuJPEG(), nil
}

type passthroughPrompter struct{}

func (passthroughPrompter) Translate(_ string, refs []prompt.DishRef) (string, []prompt.DishRef) {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.OriginalName
	}
	return strings.Join(names, "\n"), refs
}

func menuJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}

type frame struct {
	id    int64
	event string
	data  string
}

func parseSSE(body string) []frame {
	var frames []frame
	var cur frame
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "id: "):
			cur.id, _ = strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = frame{}
		}
	}
	return frames
}

func startService(t *testing.T) (*httptest.Server, *imagestore.Memory) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	images := imagestore.NewMemory()
	factory := func(_, _ string) vlm.Provider { return &menuProvider{} }
	orchestrator := scan.New(factory, knowledge.NewMemory(), images, passthroughPrompter{}, logger, scan.Options{
		VisionPrimary: "vision-main",
		ImagePrimary:  "image-main",
	})

	jobs := state.NewJobStore(root)
	events := state.NewEventStore(root, 0)
	hub := state.NewHub()
	runner := state.NewRunner(orchestrator, jobs, events, hub, images, nil, logger, 2, 0)
	runner.Start(context.Background())
	t.Cleanup(runner.Stop)

	api := httpapi.NewServer(orchestrator, runner, jobs, events, hub, images, logger, time.Second, 30*time.Second)
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return server, images
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestScanStreamEndToEnd(t *testing.T) {
	server, _ := startService(t)

	resp := postJSON(t, server.URL+"/api/v1/scan/stream", map[string]any{
		"image_base64":     base64.StdEncoding.EncodeToString(menuJPEG()),
		"user_preferences": map[string]string{"language": "zh-TW"},
	})
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	frames := parseSSE(string(body))
	if len(frames) == 0 {
		t.Fatal("no SSE frames")
	}

	last := frames[len(frames)-1]
	if last.event != "done" {
		t.Fatalf("last frame = %s, want done", last.event)
	}
	var done types.DonePayload
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatal(err)
	}
	if done.Status != "completed" {
		t.Fatalf("done status = %q", done.Status)
	}
	if done.Summary.ItemsCount != 3 {
		t.Errorf("items_count = %d, want 3", done.Summary.ItemsCount)
	}

	// A ready illustration must be fetchable at its advertised URL.
	var readyURL string
	for _, f := range frames {
		if f.event != "image_update" {
			continue
		}
		var update types.ImageUpdatePayload
		if err := json.Unmarshal([]byte(f.data), &update); err != nil {
			t.Fatal(err)
		}
		if update.ImageStatus == types.ImageReady {
			readyURL = update.ImageURL
		}
	}
	if readyURL == "" {
		t.Fatal("no ready image_update frame")
	}
	assetResp, err := http.Get(server.URL + readyURL)
	if err != nil {
		t.Fatal(err)
	}
	defer assetResp.Body.Close()
	if assetResp.StatusCode != http.StatusOK {
		t.Errorf("asset fetch status = %d for %s", assetResp.StatusCode, readyURL)
	}
}

func TestResumableJobEndToEnd(t *testing.T) {
	server, _ := startService(t)

	// Upload
	resp := postJSON(t, server.URL+"/api/v1/uploads", map[string]any{
		"image_base64": base64.StdEncoding.EncodeToString(menuJPEG()),
	})
	var upload struct {
		UploadRef string `json:"upload_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// Create job
	resp = postJSON(t, server.URL+"/api/v1/scan/jobs", map[string]any{
		"upload_ref":       upload.UploadRef,
		"user_preferences": map[string]string{"language": "zh-TW"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create job status = %d", resp.StatusCode)
	}
	var created struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// Poll the snapshot until the job completes.
	deadline := time.Now().Add(30 * time.Second)
	var snapshot types.JobSnapshot
	for {
		r, err := http.Get(fmt.Sprintf("%s/api/v1/scan/jobs/%s", server.URL, created.JobID))
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(r.Body).Decode(&snapshot)
		r.Body.Close()
		if err == nil && snapshot.Status == types.JobCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %+v", snapshot)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(snapshot.Items) != 3 {
		t.Errorf("snapshot items = %d, want 3", len(snapshot.Items))
	}

	// Replay the whole event log: gap-free seqs, done last.
	r, err := http.Get(fmt.Sprintf("%s/api/v1/scan/jobs/%s/events", server.URL, created.JobID))
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	frames := parseSSE(string(body))
	if len(frames) == 0 {
		t.Fatal("no replay frames")
	}
	for i, f := range frames {
		if f.id != int64(i+1) {
			t.Fatalf("frame %d has seq %d, want %d", i, f.id, i+1)
		}
	}
	if frames[len(frames)-1].event != "done" {
		t.Errorf("replay last frame = %s", frames[len(frames)-1].event)
	}

	// Resume mid-stream: only events after the acknowledged seq come back.
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/scan/jobs/%s/events", server.URL, created.JobID), nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Last-Event-ID", "2")
	r, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, err = io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range parseSSE(string(body)) {
		if f.id <= 2 {
			t.Errorf("resumed replay repeated seq %d", f.id)
		}
	}
}

package scan

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/backtrue/omakase-app/internal/segment"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

type imageResult struct {
	key    string
	itemID string
	data   []byte
	err    error
}

// generateImages runs top selection and the concurrent illustration fan-out.
// Each selected item gets its own bounded unit; results are handled in
// completion order; per-item failures emit image_update(failed) and never
// abort the session. The hard cap cancels stragglers.
func (s *session) generateImages(ctx context.Context) {
	keys := s.agg.SelectTop(s.o.opt.MaxTopItems)
	s.throttle.Mark()
	s.flushMenu()

	if len(keys) == 0 || s.o.images == nil || s.o.opt.ImagePrimary == "" {
		return
	}
	if s.budget.HardCapExpired(time.Now()) {
		for _, key := range keys {
			s.failImage(key)
		}
		return
	}

	s.status(StepGenerating, msgGenerating)

	fanCtx, cancel := context.WithDeadline(ctx, s.budget.HardCap)
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.o.opt.MaxTopItems))
	results := make(chan imageResult, len(keys))
	for _, key := range keys {
		item, ok := s.agg.Item(key)
		if !ok {
			continue
		}
		key, itemID, imgPrompt := key, item.ID, item.ImagePrompt
		go func() {
			if err := sem.Acquire(fanCtx, 1); err != nil {
				results <- imageResult{key: key, itemID: itemID, err: err}
				return
			}
			defer sem.Release(1)
			data, err := s.generateOne(fanCtx, imgPrompt)
			results <- imageResult{key: key, itemID: itemID, data: data, err: err}
		}()
	}

	ticker := time.NewTicker(s.o.opt.Heartbeat)
	defer ticker.Stop()

	pending := make(map[string]bool, len(keys))
	for _, key := range keys {
		pending[key] = true
	}
	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.key)
			s.handleImageResult(ctx, res)
		case <-ticker.C:
			s.em.Heartbeat()
		case <-fanCtx.Done():
			// Hard cap or caller cancellation: report everything still
			// in flight as failed. The unit goroutines drain into the
			// buffered channel on their own.
			for key := range pending {
				s.failImage(key)
			}
			return
		}
	}
}

// generateOne renders one illustration with the primary image model, falling
// back to the secondary model only on a model/permission-class failure.
// Timeouts and generic errors do not fall back.
func (s *session) generateOne(ctx context.Context, imgPrompt string) ([]byte, error) {
	deadline := earliest(time.Now().Add(s.o.opt.ImageTimeout), s.budget.HardCap)

	primary := s.o.providers("", s.o.opt.ImagePrimary)
	data, err := awaitUnit(ctx, deadline, s.o.opt.Heartbeat, nil, func(ctx context.Context) ([]byte, error) {
		return primary.GenerateImage(ctx, imgPrompt)
	})
	if err == nil {
		return data, nil
	}
	if s.o.opt.ImageFallback == "" || !vlm.IsModelAccessError(err) {
		return nil, err
	}

	s.o.logger.Info("image model falling back",
		"session_id", s.id, "model", s.o.opt.ImageFallback, "error", err)
	fallback := s.o.providers("", s.o.opt.ImageFallback)
	deadline = earliest(time.Now().Add(s.o.opt.ImageTimeout), s.budget.HardCap)
	return awaitUnit(ctx, deadline, s.o.opt.Heartbeat, nil, func(ctx context.Context) ([]byte, error) {
		return fallback.GenerateImage(ctx, imgPrompt)
	})
}

// handleImageResult normalizes, stores, and announces one completed unit.
func (s *session) handleImageResult(ctx context.Context, res imageResult) {
	if res.err != nil {
		s.o.logger.Warn("image generation failed",
			"session_id", s.id, "item_id", res.itemID, "error", res.err)
		s.failImage(res.key)
		return
	}

	jpg, err := segment.EnsureJPEG(res.data, 0)
	if err != nil {
		s.o.logger.Warn("image normalization failed",
			"session_id", s.id, "item_id", res.itemID, "error", err)
		s.failImage(res.key)
		return
	}

	storageKey := fmt.Sprintf("gen/%s/%s.jpg", s.id, res.itemID)
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.o.opt.StoreTimeout)
	defer cancel()
	if err := s.o.images.Put(putCtx, storageKey, jpg, "image/jpeg"); err != nil {
		s.o.logger.Warn("image store put failed",
			"session_id", s.id, "item_id", res.itemID, "error", err)
		s.failImage(res.key)
		return
	}

	if item, ok := s.agg.Item(res.key); ok {
		item.ImageStatus = types.ImageReady
	}
	s.em.ImageUpdate(types.ImageUpdatePayload{
		SessionID:   s.id,
		ItemID:      res.itemID,
		ImageStatus: types.ImageReady,
		ImageURL:    s.o.opt.PublicBaseURL + "/assets/" + storageKey,
	})
}

func (s *session) failImage(key string) {
	item, ok := s.agg.Item(key)
	if !ok {
		return
	}
	item.ImageStatus = types.ImageFailed
	s.em.ImageUpdate(types.ImageUpdatePayload{
		SessionID:   s.id,
		ItemID:      item.ID,
		ImageStatus: types.ImageFailed,
	})
}

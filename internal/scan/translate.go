package scan

import (
	"context"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

// overlayKnowledge runs the single batched knowledge lookup and fills empty
// fields on matching items. Misses and timeouts are non-fatal; a field
// filled here flips the used-cache flag in the terminal summary.
func (s *session) overlayKnowledge(ctx context.Context) {
	if s.o.knowledge == nil || s.agg.Len() == 0 {
		return
	}
	now := time.Now()
	timeout := s.o.opt.StoreTimeout
	if remaining := s.budget.RemainingHard(now); remaining < timeout {
		timeout = remaining
	}
	if timeout <= 0 {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries, err := s.o.knowledge.Fetch(fetchCtx, s.agg.Keys(), s.language)
	if err != nil {
		s.o.logger.Warn("knowledge fetch failed", "session_id", s.id, "error", err)
		return
	}
	for key, entry := range entries {
		if s.agg.ApplyKnowledge(key, entry) {
			s.usedCache = true
			s.throttle.Mark()
		}
	}
	s.flushMenu()
}

// translateUnknown batches every item still missing a translation into one
// model call with its own primary/fallback chain. Results merge back by
// recomputed dish key; anything unmatched is discarded. Failure leaves the
// items untranslated and the session continues.
func (s *session) translateUnknown(ctx context.Context) {
	refs := s.agg.UntranslatedRefs()
	if len(refs) == 0 || s.o.prompts == nil {
		return
	}
	now := time.Now()
	if s.budget.HardCapExpired(now) {
		return
	}

	text, included := s.o.prompts.Translate(s.language, refs)
	if len(included) == 0 {
		return
	}
	s.status(StepTranslating, msgTranslating)

	chain := []Attempt{{
		Model:    s.o.opt.VisionPrimary,
		Deadline: earliest(s.budget.OverallAttempt, s.budget.HardCap),
	}}
	if s.o.opt.VisionFallback != "" && s.o.opt.VisionFallback != s.o.opt.VisionPrimary {
		chain = append(chain, Attempt{
			Model:      s.o.opt.VisionFallback,
			Deadline:   s.budget.HardCap,
			IsFallback: true,
		})
	}

	onBeat := func() { s.status(StepTranslating, msgStillWorking) }
	for _, att := range chain {
		if s.budget.HardCapExpired(time.Now()) {
			return
		}
		provider := s.o.providers(att.Model, "")
		payload, err := awaitUnit(ctx, att.Deadline, s.o.opt.Heartbeat, onBeat, func(ctx context.Context) (vlm.MenuPayload, error) {
			return provider.Translate(ctx, text)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.o.logger.Warn("translation attempt failed",
				"session_id", s.id, "model", att.Model, "error", err)
			continue
		}

		matched := 0
		for _, item := range payload.MenuItems {
			key := item.DishKey
			if _, ok := s.agg.Item(key); !ok {
				key = NormalizeDishKey(item.OriginalName)
			}
			if _, ok := s.agg.Item(key); !ok {
				continue
			}
			item.DishKey = key
			s.agg.Merge(item)
			matched++
		}
		if matched > 0 {
			s.usedFallback = s.usedFallback || att.IsFallback
			s.throttle.Mark()
			s.flushMenu()
			return
		}
	}
}

// writeBack persists what the session learned: knowledge rows for items with
// a translation, plus the scan audit record. Bounded by remaining budget and
// never fatal.
func (s *session) writeBack(ctx context.Context) {
	if s.o.knowledge == nil || s.agg.Len() == 0 {
		return
	}
	timeout := s.o.opt.StoreTimeout
	if remaining := s.budget.RemainingHard(time.Now()); remaining < timeout {
		timeout = remaining
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var rows []types.KnowledgeEntry
	for _, item := range s.agg.Snapshot() {
		if item.TranslatedName == "" {
			continue
		}
		rows = append(rows, types.KnowledgeEntry{
			DishKey:        NormalizeDishKey(item.OriginalName),
			TranslatedName: item.TranslatedName,
			Description:    item.Description,
			Tags:           item.Tags,
			Romanization:   item.Romanization,
		})
	}
	if len(rows) > 0 {
		if err := s.o.knowledge.UpsertMany(storeCtx, rows, s.language, s.id); err != nil {
			s.o.logger.Warn("knowledge write-back failed", "session_id", s.id, "error", err)
		}
	}

	rec := &types.ScanRecord{
		ScanID:          s.id,
		ImageHashSHA256: s.imageHash,
		Language:        s.language,
		Items:           s.agg.Snapshot(),
	}
	if err := s.o.knowledge.InsertScanRecord(storeCtx, rec); err != nil {
		s.o.logger.Warn("scan record insert failed", "session_id", s.id, "error", err)
	}
}

package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/backtrue/omakase-app/internal/prompt"
	"github.com/backtrue/omakase-app/internal/segment"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

// errFirstResultTimeout marks a session that produced nothing by the
// first-result deadline.
var errFirstResultTimeout = fmt.Errorf("no result before first-result deadline: %w", ErrUnitTimeout)

// runRecognition executes one recognition attempt: segments sequentially,
// whole image parsed as a full structured menu, tiles as cheap dish-string
// extraction. Segment timeouts are absorbed; recognized dishes merge into
// the aggregate immediately and snapshots go out under the throttle. Returns
// the last upstream error for user-facing classification when the attempt
// produced nothing.
func (s *session) runRecognition(ctx context.Context, att Attempt, segments []segment.Segment) error {
	provider := s.o.providers(att.Model, "")
	var lastErr error

	for _, seg := range segments {
		now := time.Now()
		if s.budget.HardCapExpired(now) {
			break
		}
		if s.agg.Len() == 0 && s.budget.FirstResultExpired(now) {
			return errFirstResultTimeout
		}

		if seg.Total > 1 && seg.Index > 0 {
			s.status(StepAnalyzing, fmt.Sprintf(msgSegmentProgress, seg.Index+1, seg.Total))
		}

		deadline := earliest(now.Add(s.budget.PerSegment), att.Deadline, s.budget.HardCap)
		if s.agg.Len() == 0 {
			// Until something has been shown, a hung call is cut at the
			// first-result deadline and surfaced as a timeout.
			deadline = earliest(deadline, s.budget.FirstResult)
		}
		onBeat := func() { s.status(StepAnalyzing, msgStillAnalyzing) }

		added := 0
		if seg.Index == 0 {
			payload, err := awaitUnit(ctx, deadline, s.o.opt.Heartbeat, onBeat, func(ctx context.Context) (vlm.MenuPayload, error) {
				return provider.ParseMenu(ctx, seg.Data, seg.MimeType, prompt.Menu(s.language))
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				lastErr = err
				s.o.logger.Warn("segment parse failed",
					"session_id", s.id, "model", att.Model, "segment", seg.Index, "error", err)
				continue
			}
			for _, item := range payload.MenuItems {
				if key := s.agg.Merge(item); key != "" {
					added++
				}
			}
		} else {
			out, err := awaitUnit(ctx, deadline, s.o.opt.Heartbeat, onBeat, func(ctx context.Context) (vlm.DishStrings, error) {
				return provider.RecognizeDishStrings(ctx, seg.Data, seg.MimeType, prompt.OCR())
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				lastErr = err
				s.o.logger.Warn("segment recognition failed",
					"session_id", s.id, "model", att.Model, "segment", seg.Index, "error", err)
				continue
			}
			for _, name := range out.DishStrings {
				if key := s.agg.Ensure(name); key != "" {
					added++
				}
			}
		}

		if added > 0 {
			s.throttle.Mark()
			s.maybeEmitMenu(time.Now())
		}
	}

	if s.agg.Len() == 0 {
		if lastErr != nil {
			return lastErr
		}
		return ErrUnitTimeout
	}
	return nil
}

// recognize drives the fallback chain. Advancing to the fallback model is
// allowed only while the aggregate is still empty; partial results from the
// primary always win. Returns a wire-ready error when every attempt came up
// empty.
func (s *session) recognize(ctx context.Context, segments []segment.Segment) *Error {
	chain := RecognitionChain(s.budget, s.o.opt.VisionPrimary, s.o.opt.VisionFallback)

	var lastErr error
	for _, att := range chain {
		if s.agg.Len() > 0 {
			break
		}
		if s.budget.HardCapExpired(time.Now()) {
			break
		}
		if att.IsFallback {
			s.o.logger.Info("recognition falling back",
				"session_id", s.id, "model", att.Model, "error", lastErr)
		}

		err := s.runRecognition(ctx, att, segments)
		if ctx.Err() != nil {
			return nil
		}
		if s.agg.Len() > 0 {
			s.usedFallback = att.IsFallback
			return nil
		}
		lastErr = err
	}

	if s.agg.Len() > 0 {
		return nil
	}
	return classifyRecognitionFailure(lastErr)
}

func classifyRecognitionFailure(err error) *Error {
	switch {
	case err == nil:
		return &Error{Code: CodeVLMFailed, Message: errMsgVLMFailed, Recoverable: true}
	case isTimeout(err):
		return &Error{Code: CodeVLMTimeout, Message: errMsgVLMTimeout, Detail: err.Error(), Recoverable: true}
	case vlm.IsModelAccessError(err):
		return &Error{Code: CodeVLMFailed, Message: errMsgModelAccess, Detail: err.Error(), Recoverable: true}
	default:
		return &Error{Code: CodeVLMFailed, Message: errMsgVLMFailed, Detail: err.Error(), Recoverable: true}
	}
}

// maybeEmitMenu emits a throttled menu_data snapshot if one is due.
func (s *session) maybeEmitMenu(now time.Time) {
	if s.throttle.ShouldEmit(now) {
		s.em.MenuData(types.MenuDataPayload{SessionID: s.id, Items: s.agg.Snapshot()})
	}
}

// flushMenu forces out a pending snapshot at a phase boundary.
func (s *session) flushMenu() {
	if s.throttle.Flush(time.Now()) {
		s.em.MenuData(types.MenuDataPayload{SessionID: s.id, Items: s.agg.Snapshot()})
	}
}

func (s *session) status(step, message string) {
	s.em.Status(types.StatusPayload{Step: step, Message: message, SessionID: s.id})
}

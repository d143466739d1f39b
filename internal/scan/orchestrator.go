// Package scan is the streaming menu-scan orchestrator: segment the photo,
// recognize dishes with model fallback under a deadline budget, overlay the
// knowledge cache, translate what is still unknown, and illustrate the top
// picks, emitting an ordered event stream the whole way.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/backtrue/omakase-app/internal/prompt"
	"github.com/backtrue/omakase-app/internal/segment"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

// Options configure an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Budget              BudgetOptions
	Heartbeat           time.Duration
	MenuDataMinInterval time.Duration
	StoreTimeout        time.Duration
	ImageTimeout        time.Duration
	MaxTopItems         int
	MaxSegments         int
	VisionPrimary       string
	VisionFallback      string
	ImagePrimary        string
	ImageFallback       string
	PublicBaseURL       string
	DefaultLanguage     string
}

func (o Options) withDefaults() Options {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 10 * time.Second
	}
	if o.MenuDataMinInterval <= 0 {
		o.MenuDataMinInterval = 1500 * time.Millisecond
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 20 * time.Second
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = 60 * time.Second
	}
	if o.MaxTopItems <= 0 {
		o.MaxTopItems = 3
	}
	if o.VisionPrimary == "" {
		o.VisionPrimary = "gemini-2.5-pro"
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = "zh-TW"
	}
	return o
}

// TranslationPrompter builds the batched translation prompt for the refs
// that fit its budget, returning the prompt and the included refs.
type TranslationPrompter interface {
	Translate(language string, refs []prompt.DishRef) (string, []prompt.DishRef)
}

// Orchestrator runs scan sessions against injected collaborators. A nil
// provider factory switches every session to the canned mock flow; nil
// knowledge or image stores disable those phases.
type Orchestrator struct {
	providers vlm.Factory
	knowledge types.KnowledgeStore
	images    types.ImageStore
	prompts   TranslationPrompter
	logger    *slog.Logger
	opt       Options

	split func([]byte, segment.Options) ([]segment.Segment, error)
}

// New constructs an Orchestrator.
func New(providers vlm.Factory, knowledge types.KnowledgeStore, images types.ImageStore, prompts TranslationPrompter, logger *slog.Logger, opt Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		providers: providers,
		knowledge: knowledge,
		images:    images,
		prompts:   prompts,
		logger:    logger,
		opt:       opt.withDefaults(),
		split:     segment.Split,
	}
}

// Request describes one scan session.
type Request struct {
	SessionID   types.SessionID
	ImageBase64 string
	Language    string
}

// session is the per-run state. Owned by the goroutine executing Run; only
// the image fan-out runs concurrently, and it reports back over a channel.
type session struct {
	o  *Orchestrator
	id types.SessionID
	em Emitter

	language  string
	budget    Budget
	agg       *Aggregator
	throttle  *menuThrottle
	imageHash string

	usedCache    bool
	usedFallback bool
	doneEmitted  bool
}

// Run executes one scan session, emitting the full event stream through em.
// A terminal done event is emitted on every path, including panics, except
// when ctx itself is cancelled by the caller.
func (o *Orchestrator) Run(ctx context.Context, req Request, em Emitter) {
	s := &session{
		o:        o,
		id:       req.SessionID,
		em:       em,
		language: req.Language,
		budget:   NewBudget(time.Now(), o.opt.Budget),
		agg:      NewAggregator(),
		throttle: newMenuThrottle(o.opt.MenuDataMinInterval),
	}
	if s.language == "" {
		s.language = o.opt.DefaultLanguage
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("scan panicked", "session_id", s.id, "panic", r)
			if ctx.Err() == nil {
				s.fail(&Error{Code: CodeInternal, Message: errMsgInternal, Recoverable: false})
			}
		}
	}()

	o.logger.Info("scan started", "session_id", s.id, "language", s.language)
	s.status(StepAnalyzing, msgAnalyzing)

	image, err := decodeImageBase64(req.ImageBase64)
	if err != nil {
		s.fail(&Error{Code: CodeInvalidImage, Message: errMsgInvalidImage, Detail: err.Error(), Recoverable: false})
		return
	}
	sum := sha256.Sum256(image)
	s.imageHash = hex.EncodeToString(sum[:])

	if o.providers == nil {
		s.runMock(ctx)
		return
	}

	segments, err := o.split(image, segment.Options{MaxSegments: o.opt.MaxSegments})
	if err != nil {
		s.fail(&Error{Code: CodeInvalidImage, Message: errMsgInvalidImage, Detail: err.Error(), Recoverable: false})
		return
	}

	if serr := s.recognize(ctx, segments); ctx.Err() != nil {
		return
	} else if serr != nil {
		s.fail(serr)
		return
	}
	s.flushMenu()

	s.overlayKnowledge(ctx)
	s.translateUnknown(ctx)
	if ctx.Err() != nil {
		return
	}

	s.generateImages(ctx)
	if ctx.Err() != nil {
		return
	}
	s.flushMenu()

	s.writeBack(ctx)
	s.done("completed")
}

// fail emits the error event and the terminal done with failed status.
func (s *session) fail(e *Error) {
	s.em.Fail(e.Payload())
	s.done("failed")
}

// done emits the terminal event exactly once.
func (s *session) done(status string) {
	if s.doneEmitted {
		return
	}
	s.doneEmitted = true

	now := time.Now()
	summary := types.Summary{
		ElapsedMS:         s.budget.Elapsed(now).Milliseconds(),
		ItemsCount:        s.agg.Len(),
		UsedCache:         s.usedCache,
		UsedFallback:      s.usedFallback,
		UnknownItemsCount: s.agg.UntranslatedCount(),
	}
	s.o.logger.Info("scan finished",
		"session_id", s.id, "status", status,
		"items", summary.ItemsCount, "elapsed_ms", summary.ElapsedMS,
		"used_cache", summary.UsedCache, "used_fallback", summary.UsedFallback)
	s.em.Done(types.DonePayload{Status: status, SessionID: s.id, Summary: summary})
}

// decodeImageBase64 accepts both bare base64 and data-URL payloads.
func decodeImageBase64(in string) ([]byte, error) {
	in = strings.TrimSpace(in)
	if idx := strings.Index(in, ";base64,"); idx >= 0 {
		in = in[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(in)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, base64.CorruptInputError(0)
	}
	return data, nil
}

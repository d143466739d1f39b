package scan

import (
	"fmt"
	"strings"

	"github.com/backtrue/omakase-app/internal/prompt"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

// Aggregator accumulates menu items across segments, attempts, knowledge
// lookups, and translation. Items are keyed by normalized dish key, kept in
// first-seen order, and merged fill-empty-only so an earlier, richer result
// is never clobbered by a later, sparser one. Not safe for concurrent use;
// the session goroutine owns it exclusively.
type Aggregator struct {
	order  []string
	items  map[string]*types.MenuItem
	nextID int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{items: make(map[string]*types.MenuItem)}
}

// Len returns the number of distinct dishes aggregated so far.
func (a *Aggregator) Len() int { return len(a.order) }

// Ensure inserts a bare item for the dish name if its key is not yet present
// and returns the key, or "" if the name normalizes to nothing.
func (a *Aggregator) Ensure(originalName string) string {
	key := NormalizeDishKey(originalName)
	if key == "" {
		return ""
	}
	if _, ok := a.items[key]; !ok {
		a.nextID++
		a.items[key] = &types.MenuItem{
			ID:           fmt.Sprintf("item_%d", a.nextID),
			OriginalName: strings.TrimSpace(originalName),
			Tags:         []string{},
			ImageStatus:  types.ImageNone,
		}
		a.order = append(a.order, key)
	}
	return key
}

// Merge folds one model-produced item into the aggregate. The dish key comes
// from the item's own key field when set, otherwise from its original name.
// Empty fields fill in; non-empty fields are kept; is_top3 only ever goes
// from false to true, and promotion marks the illustration pending.
func (a *Aggregator) Merge(in vlm.MenuPayloadItem) string {
	name := strings.TrimSpace(in.OriginalName)
	key := in.DishKey
	if key == "" {
		key = NormalizeDishKey(name)
	}
	if key == "" {
		return ""
	}
	item, ok := a.items[key]
	if !ok {
		if name == "" {
			return ""
		}
		a.nextID++
		item = &types.MenuItem{
			ID:           fmt.Sprintf("item_%d", a.nextID),
			OriginalName: name,
			Tags:         []string{},
			ImageStatus:  types.ImageNone,
		}
		a.items[key] = item
		a.order = append(a.order, key)
	}

	if item.TranslatedName == "" {
		item.TranslatedName = strings.TrimSpace(in.TranslatedName)
	}
	if item.Description == "" {
		item.Description = strings.TrimSpace(in.Description)
	}
	if len(item.Tags) == 0 && len(in.Tags) > 0 {
		item.Tags = in.Tags
	}
	if item.ImagePrompt == "" {
		item.ImagePrompt = strings.TrimSpace(in.ImagePrompt)
	}
	if item.Romanization == "" {
		item.Romanization = strings.TrimSpace(in.Romanization)
	}
	if in.IsTop && !item.IsTop {
		a.promote(item)
	}
	return key
}

// ApplyKnowledge overlays a cached knowledge entry onto the item for key,
// filling empty fields only. Reports whether anything changed.
func (a *Aggregator) ApplyKnowledge(key string, entry types.KnowledgeEntry) bool {
	item, ok := a.items[key]
	if !ok {
		return false
	}
	changed := false
	if item.TranslatedName == "" && entry.TranslatedName != "" {
		item.TranslatedName = entry.TranslatedName
		changed = true
	}
	if item.Description == "" && entry.Description != "" {
		item.Description = entry.Description
		changed = true
	}
	if len(item.Tags) == 0 && len(entry.Tags) > 0 {
		item.Tags = entry.Tags
		changed = true
	}
	if item.Romanization == "" && entry.Romanization != "" {
		item.Romanization = entry.Romanization
		changed = true
	}
	return changed
}

// promote flags an item as recommended and queues its illustration.
func (a *Aggregator) promote(item *types.MenuItem) {
	item.IsTop = true
	if item.ImageStatus == types.ImageNone {
		item.ImageStatus = types.ImagePending
	}
	if item.ImagePrompt == "" {
		name := item.TranslatedName
		if name == "" {
			name = item.OriginalName
		}
		item.ImagePrompt = prompt.DefaultImagePrompt(name)
	}
}

// PromoteTop marks the items with the given keys as recommended.
func (a *Aggregator) PromoteTop(keys []string) {
	for _, key := range keys {
		if item, ok := a.items[key]; ok && !item.IsTop {
			a.promote(item)
		}
	}
}

// SelectTop caps the recommended subset at max in first-seen order. Items
// flagged beyond the cap are demoted and their pending illustration dropped.
// When nothing is flagged the first items are promoted as a safety net, so a
// non-empty aggregate always yields at least one recommendation. Returns the
// selected keys in first-seen order.
func (a *Aggregator) SelectTop(max int) []string {
	tops := a.TopKeys()
	if len(tops) == 0 {
		for _, key := range a.order {
			if len(tops) == max {
				break
			}
			a.promote(a.items[key])
			tops = append(tops, key)
		}
		return tops
	}
	if len(tops) > max {
		for _, key := range tops[max:] {
			item := a.items[key]
			item.IsTop = false
			if item.ImageStatus == types.ImagePending {
				item.ImageStatus = types.ImageNone
			}
		}
		tops = tops[:max]
	}
	return tops
}

// Item returns the aggregated item for a dish key.
func (a *Aggregator) Item(key string) (*types.MenuItem, bool) {
	item, ok := a.items[key]
	return item, ok
}

// ItemByID returns the aggregated item with the given item ID.
func (a *Aggregator) ItemByID(id string) (*types.MenuItem, bool) {
	for _, key := range a.order {
		if a.items[key].ID == id {
			return a.items[key], true
		}
	}
	return nil, false
}

// Keys returns the dish keys in first-seen order.
func (a *Aggregator) Keys() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// TopKeys returns the keys of recommended items in first-seen order.
func (a *Aggregator) TopKeys() []string {
	var out []string
	for _, key := range a.order {
		if a.items[key].IsTop {
			out = append(out, key)
		}
	}
	return out
}

// UntranslatedRefs returns (key, original name) pairs for items still missing
// a translated name, in first-seen order.
func (a *Aggregator) UntranslatedRefs() []prompt.DishRef {
	var out []prompt.DishRef
	for _, key := range a.order {
		item := a.items[key]
		if item.TranslatedName == "" {
			out = append(out, prompt.DishRef{DishKey: key, OriginalName: item.OriginalName})
		}
	}
	return out
}

// UntranslatedCount returns how many items still lack a translated name.
func (a *Aggregator) UntranslatedCount() int {
	n := 0
	for _, key := range a.order {
		if a.items[key].TranslatedName == "" {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of all items in first-seen order, safe to hand
// to another goroutine or marshal into an event payload.
func (a *Aggregator) Snapshot() []types.MenuItem {
	out := make([]types.MenuItem, 0, len(a.order))
	for _, key := range a.order {
		item := *a.items[key]
		item.Tags = append([]string(nil), a.items[key].Tags...)
		out = append(out, item)
	}
	return out
}

package scan

import (
	"strings"
	"testing"

	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

func TestAggregatorDedupAcrossWritings(t *testing.T) {
	agg := NewAggregator()

	k1 := agg.Ensure("唐揚げ")
	k2 := agg.Ensure(" 唐揚げ ")
	if k1 == "" || k1 != k2 {
		t.Fatalf("expected identical keys, got %q and %q", k1, k2)
	}
	if agg.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", agg.Len())
	}
}

func TestAggregatorMergeFillsEmptyOnly(t *testing.T) {
	agg := NewAggregator()

	key := agg.Merge(vlm.MenuPayloadItem{
		OriginalName:   "唐揚げ",
		TranslatedName: "Fried Chicken",
		Description:    "juicy karaage",
	})
	if key == "" {
		t.Fatal("merge returned empty key")
	}

	agg.Merge(vlm.MenuPayloadItem{
		OriginalName:   "唐揚げ",
		TranslatedName: "Karaage",
		Description:    "",
		Tags:           []string{"fried"},
	})

	item, ok := agg.Item(key)
	if !ok {
		t.Fatal("item not found")
	}
	if item.TranslatedName != "Fried Chicken" {
		t.Errorf("translated name overwritten: %q", item.TranslatedName)
	}
	if item.Description != "juicy karaage" {
		t.Errorf("description lost: %q", item.Description)
	}
	if len(item.Tags) != 1 || item.Tags[0] != "fried" {
		t.Errorf("empty tags not filled: %v", item.Tags)
	}
}

func TestAggregatorTopPromotionIsSticky(t *testing.T) {
	agg := NewAggregator()

	key := agg.Merge(vlm.MenuPayloadItem{OriginalName: "刺身", TranslatedName: "Sashimi", IsTop: true})
	item, _ := agg.Item(key)
	if !item.IsTop {
		t.Fatal("item not promoted")
	}
	if item.ImageStatus != types.ImagePending {
		t.Errorf("expected pending image status, got %s", item.ImageStatus)
	}
	if !strings.Contains(item.ImagePrompt, "Sashimi") {
		t.Errorf("image prompt missing dish name: %q", item.ImagePrompt)
	}

	// A later result with is_top3=false must not demote.
	agg.Merge(vlm.MenuPayloadItem{OriginalName: "刺身", IsTop: false})
	item, _ = agg.Item(key)
	if !item.IsTop {
		t.Error("promotion was reverted")
	}
}

func TestAggregatorSnapshotOrderAndIsolation(t *testing.T) {
	agg := NewAggregator()
	agg.Ensure("焼き鳥")
	agg.Ensure("ポテトサラダ")
	agg.Ensure("焼き鳥")
	agg.Ensure("枝豆")

	snap := agg.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 items, got %d", len(snap))
	}
	want := []string{"焼き鳥", "ポテトサラダ", "枝豆"}
	for i, name := range want {
		if snap[i].OriginalName != name {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].OriginalName, name)
		}
	}

	// Mutating the snapshot must not leak back into the aggregate.
	snap[0].TranslatedName = "mutated"
	key := NormalizeDishKey("焼き鳥")
	if item, _ := agg.Item(key); item.TranslatedName == "mutated" {
		t.Error("snapshot shares memory with aggregate")
	}
}

func TestAggregatorKnowledgeOverlay(t *testing.T) {
	agg := NewAggregator()
	key := agg.Ensure("唐揚げ")

	changed := agg.ApplyKnowledge(key, types.KnowledgeEntry{
		TranslatedName: "Karaage",
		Description:    "fried chicken",
		Tags:           []string{"chicken"},
		Romanization:   "karaage",
	})
	if !changed {
		t.Fatal("overlay reported no change")
	}
	item, _ := agg.Item(key)
	if item.TranslatedName != "Karaage" || item.Romanization != "karaage" {
		t.Errorf("overlay did not fill fields: %+v", item)
	}

	// Second overlay with different values must not overwrite.
	changed = agg.ApplyKnowledge(key, types.KnowledgeEntry{TranslatedName: "Other"})
	if changed {
		t.Error("overlay overwrote a filled field")
	}
}

func TestAggregatorUntranslatedRefs(t *testing.T) {
	agg := NewAggregator()
	agg.Merge(vlm.MenuPayloadItem{OriginalName: "唐揚げ", TranslatedName: "Karaage"})
	agg.Ensure("刺身")
	agg.Ensure("枝豆")

	refs := agg.UntranslatedRefs()
	if len(refs) != 2 {
		t.Fatalf("expected 2 untranslated refs, got %d", len(refs))
	}
	if refs[0].OriginalName != "刺身" || refs[1].OriginalName != "枝豆" {
		t.Errorf("unexpected refs: %+v", refs)
	}
	if agg.UntranslatedCount() != 2 {
		t.Errorf("untranslated count = %d, want 2", agg.UntranslatedCount())
	}
}

package prompt

import (
	"encoding/json"
	"strings"
	"testing"
)

// runeCount stands in for the tokenizer: one token per rune keeps budgets
// easy to compute exactly.
func runeCount(s string) int { return len([]rune(s)) }

func testBuilder(maxTokens int) *Builder {
	return &Builder{count: runeCount, maxTokens: maxTokens}
}

// lineCost mirrors the per-ref line the builder emits.
func lineCost(t *testing.T, ref DishRef) int {
	t.Helper()
	encoded, err := json.Marshal(ref)
	if err != nil {
		t.Fatal(err)
	}
	return runeCount("- " + string(encoded) + "\n")
}

// frameCost is the fixed header+footer overhead for a given language.
func frameCost(t *testing.T, language string) int {
	t.Helper()
	b := testBuilder(1 << 20)
	prompt, included := b.Translate(language, []DishRef{{DishKey: "x", OriginalName: "x"}})
	if len(included) != 1 {
		t.Fatal("probe ref excluded under a huge budget")
	}
	return runeCount(prompt) - lineCost(t, included[0])
}

func TestTranslateIncludesAllWithinBudget(t *testing.T) {
	refs := []DishRef{
		{DishKey: "karaage", OriginalName: "唐揚げ"},
		{DishKey: "sashimi", OriginalName: "刺身"},
		{DishKey: "yakitori", OriginalName: "焼き鳥"},
	}
	b := testBuilder(1 << 20)

	prompt, included := b.Translate("zh-TW", refs)
	if len(included) != len(refs) {
		t.Fatalf("included = %d, want %d", len(included), len(refs))
	}
	if !strings.HasPrefix(prompt, "Role:") {
		t.Error("prompt missing header")
	}
	if !strings.Contains(prompt, "zh-TW") {
		t.Error("target language not in prompt")
	}
	for _, ref := range refs {
		if !strings.Contains(prompt, ref.OriginalName) {
			t.Errorf("prompt missing %q", ref.OriginalName)
		}
	}
}

func TestTranslateTruncatesInOrder(t *testing.T) {
	refs := []DishRef{
		{DishKey: "karaage", OriginalName: "唐揚げ"},
		{DishKey: "sashimi", OriginalName: "刺身"},
		{DishKey: "yakitori", OriginalName: "焼き鳥"},
	}
	// Budget for the frame plus exactly the first two lines.
	budget := frameCost(t, "en") + lineCost(t, refs[0]) + lineCost(t, refs[1])
	b := testBuilder(budget)

	prompt, included := b.Translate("en", refs)
	if len(included) != 2 {
		t.Fatalf("included = %d, want 2", len(included))
	}
	if included[0].DishKey != "karaage" || included[1].DishKey != "sashimi" {
		t.Errorf("truncation reordered refs: %+v", included)
	}
	if strings.Contains(prompt, "焼き鳥") {
		t.Error("excluded ref leaked into the prompt")
	}
}

func TestTranslateSkipsBlankRefs(t *testing.T) {
	refs := []DishRef{
		{DishKey: "", OriginalName: "唐揚げ"},
		{DishKey: "blank", OriginalName: "   "},
		{DishKey: "sashimi", OriginalName: "刺身"},
	}
	b := testBuilder(1 << 20)

	_, included := b.Translate("en", refs)
	if len(included) != 1 || included[0].DishKey != "sashimi" {
		t.Errorf("included = %+v, want only sashimi", included)
	}
}

func TestTranslateAllExcluded(t *testing.T) {
	refs := []DishRef{{DishKey: "karaage", OriginalName: "唐揚げ"}}

	// Budget too small for even one line.
	b := testBuilder(frameCost(t, "en"))
	prompt, included := b.Translate("en", refs)
	if prompt != "" || included != nil {
		t.Errorf("got (%q, %+v), want empty prompt and nil refs", prompt, included)
	}

	// No usable refs at all.
	b = testBuilder(1 << 20)
	prompt, included = b.Translate("en", []DishRef{{DishKey: "", OriginalName: ""}})
	if prompt != "" || included != nil {
		t.Errorf("got (%q, %+v) for blank refs", prompt, included)
	}
}

func TestDefaultImagePrompt(t *testing.T) {
	got := DefaultImagePrompt("  Karaage ")
	if !strings.Contains(got, "Dish: Karaage.") {
		t.Errorf("prompt = %q", got)
	}
	if !strings.Contains(got, "watercolor") {
		t.Errorf("template changed: %q", got)
	}
}

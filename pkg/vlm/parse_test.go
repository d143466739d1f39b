package vlm

import (
	"errors"
	"testing"
)

func TestDecodeMenuPayloadStrictJSON(t *testing.T) {
	out, err := DecodeMenuPayload(`{"menu_items":[{"original_name":"唐揚げ","translated_name":"Karaage","is_top3":true}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.MenuItems) != 1 {
		t.Fatalf("items = %d", len(out.MenuItems))
	}
	if !out.MenuItems[0].IsTop || out.MenuItems[0].TranslatedName != "Karaage" {
		t.Errorf("item = %+v", out.MenuItems[0])
	}
}

func TestDecodeMenuPayloadFencedWithProse(t *testing.T) {
	text := "Here is the menu you asked for:\n```json\n{\"menu_items\":[{\"original_name\":\"刺身\"}]}\n```\nHope that helps!"
	out, err := DecodeMenuPayload(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.MenuItems) != 1 || out.MenuItems[0].OriginalName != "刺身" {
		t.Errorf("payload = %+v", out)
	}
}

func TestDecodeMenuPayloadEmbeddedInProse(t *testing.T) {
	text := `I found these dishes. {"menu_items":[{"original_name":"焼き鳥"}]} Let me know.`
	out, err := DecodeMenuPayload(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.MenuItems) != 1 || out.MenuItems[0].OriginalName != "焼き鳥" {
		t.Errorf("payload = %+v", out)
	}
}

func TestDecodeMenuPayloadTrailingCommaAndNewlines(t *testing.T) {
	text := "{\"menu_items\":[{\"original_name\":\"唐揚げ\",\"description\":\"line one\nline two\",},]}"
	out, err := DecodeMenuPayload(text)
	if err != nil {
		t.Fatal(err)
	}
	if out.MenuItems[0].Description != "line one\nline two" {
		t.Errorf("description = %q", out.MenuItems[0].Description)
	}
}

func TestDecodeMenuPayloadTruncated(t *testing.T) {
	text := `{"menu_items":[{"original_name":"唐揚げ","translated_name":"Karaage"},{"original_name":"刺身`
	out, err := DecodeMenuPayload(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.MenuItems) < 1 {
		t.Fatalf("no items recovered from truncated payload: %+v", out)
	}
	if out.MenuItems[0].OriginalName != "唐揚げ" {
		t.Errorf("first item = %+v", out.MenuItems[0])
	}
}

func TestDecodeDishStringsScrapeFallback(t *testing.T) {
	text := "読み取れた品目:\n- 唐揚げ\n- 刺身盛り合わせ\n- 唐揚げ\n"
	out, err := DecodeDishStrings(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.DishStrings) != 3 {
		t.Fatalf("scraped = %v", out.DishStrings)
	}
	if out.DishStrings[1] != "唐揚げ" || out.DishStrings[2] != "刺身盛り合わせ" {
		t.Errorf("scraped = %v", out.DishStrings)
	}
}

func TestDecodeDishStringsQuotedScrape(t *testing.T) {
	text := `The dishes are "唐揚げ" and "刺身", nothing else.`
	out, err := DecodeDishStrings(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.DishStrings) != 2 {
		t.Fatalf("scraped = %v", out.DishStrings)
	}
}

func TestIsModelAccessError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("gemini 404: model gemini-x not found"), true},
		{errors.New("PERMISSION_DENIED: caller lacks access"), true},
		{errors.New("connection reset by peer"), false},
		{errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		if got := IsModelAccessError(tt.err); got != tt.want {
			t.Errorf("IsModelAccessError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// Package prompt builds the model prompts for recognition, full menu
// parsing, and batch translation. Translation batches are token-budgeted so
// a huge menu cannot push the request past the model's context window.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DishRef is one (dish key, original name) pair fed to the translation call.
type DishRef struct {
	DishKey      string `json:"dish_key"`
	OriginalName string `json:"original_name"`
}

const imagePromptTemplate = "Japanese watercolor illustration, hand-drawn style, warm atmosphere, " +
	"studio ghibli food style, white background. Dish: %s."

// DefaultImagePrompt returns the fixed illustration prompt for a dish name.
func DefaultImagePrompt(dishName string) string {
	return fmt.Sprintf(imagePromptTemplate, strings.TrimSpace(dishName))
}

// OCR returns the recognition prompt extracting raw dish name strings.
func OCR() string {
	return "Role: 你是日本居酒屋手寫菜單 OCR 專家。\n" +
		"Task: 從圖片中擷取所有可辨識的日文菜名字串，並輸出結構化 JSON。\n" +
		"Requirements:\n" +
		"1) 請只列出菜名/品項名稱（不需要價錢）。\n" +
		"2) 若有重複或疑似同一品項的不同寫法，仍可輸出，但請盡量保持原始字面。\n" +
		"3) 請避免輸出空字串。\n" +
		"Output: 僅輸出 JSON（不要 markdown，不要多餘文字）。\n"
}

// Menu returns the full-parse prompt producing structured menu items in the
// target language.
func Menu(language string) string {
	return "Role: 你是精通日本料理歷史與書法的資深美食家。\n" +
		"Task: 接收一張手寫菜單圖片，輸出結構化 JSON。\n" +
		"Requirements:\n" +
		"1) OCR 與推理：若字跡潦草，請根據居酒屋常見菜色與上下文推理修正。\n" +
		fmt.Sprintf("2) 翻譯：將菜名翻譯為 %s（意譯）。若不確定翻譯，請使用較直覺/常見的意譯，仍需輸出 translated_name。\n", language) +
		"3) 完整性（最優先）：請盡可能列出圖片中所有可辨識的菜色/註記/價錢(若有)，包含小字；不確定時請做最佳猜測並仍輸出。\n" +
		"4) 可省略欄位：為了提高完整性，description/tags/image_prompt/romanji 若不確定或太花時間，可以留空字串/空陣列；不要因為要填滿欄位而漏掉菜名。\n" +
		"5) 推薦：在不影響完整性的前提下，從已列出的菜色中挑 3 個最推薦的標記 is_top3=true，其餘為 false。\n" +
		"6) 內容精簡：description 請控制在 25 字以內；tags 最多 3 個；image_prompt 若提供請用固定模板：" +
		DefaultImagePrompt("<ENGLISH NAME>") + "\n" +
		"Output: 僅輸出 JSON（不要 markdown，不要多餘文字）。\n"
}

// Builder assembles translation prompts under a token budget.
type Builder struct {
	count     func(string) int
	maxTokens int
}

// NewBuilder creates a Builder capping translation prompts at maxTokens.
// The cl100k_base encoding is used as a conservative proxy for the model's
// own tokenizer.
func NewBuilder(maxTokens int) (*Builder, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = 6000
	}
	return &Builder{
		count:     func(text string) int { return len(enc.Encode(text, nil, nil)) },
		maxTokens: maxTokens,
	}, nil
}

func (b *Builder) countTokens(text string) int {
	return b.count(text)
}

// Translate builds the batch translation prompt for the refs that fit the
// token budget and returns it together with the included refs. Refs beyond
// the budget are left out; their items simply stay untranslated.
func (b *Builder) Translate(language string, refs []DishRef) (string, []DishRef) {
	header := "Role: 你是精通日本料理的翻譯與說明撰稿人。\n" +
		"Task: 將提供的日文菜名逐一翻譯為目標語言，輸出結構化 JSON。\n" +
		"Requirements:\n" +
		"1) 請只翻譯下列提供的品項，不要新增未提供的品項。\n" +
		"2) `dish_key` 必須與輸入一致（不要改）。\n" +
		"3) `original_name` 必須與輸入一致（不要自行修正成不同菜名）。\n" +
		fmt.Sprintf("4) `translated_name` 請翻譯成 %s（意譯）。若不確定仍需給出最直覺的意譯。\n", language) +
		"5) `description` 可留空字串；若填寫請控制在 25 字內。\n" +
		"6) `tags` 最多 3 個，若不確定可為空陣列。\n" +
		"7) 若輸入品項數量 >= 3，請在其中挑選最多 3 個最推薦的標記 `is_top3=true`；其餘為 false。\n" +
		"8) `image_prompt`、`romanji` 可留空。\n" +
		"Input dish items (JSON lines):\n"
	footer := "Output: 僅輸出 JSON（不要 markdown，不要多餘文字）。\n"

	budget := b.maxTokens - b.countTokens(header) - b.countTokens(footer)

	var lines strings.Builder
	var included []DishRef
	for _, ref := range refs {
		if ref.DishKey == "" || strings.TrimSpace(ref.OriginalName) == "" {
			continue
		}
		encoded, err := json.Marshal(ref)
		if err != nil {
			continue
		}
		line := "- " + string(encoded) + "\n"
		cost := b.countTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		lines.WriteString(line)
		included = append(included, ref)
	}
	if len(included) == 0 {
		return "", nil
	}
	return header + lines.String() + footer, included
}

package vlm

// DishStrings is the structured output of a recognition-only call.
type DishStrings struct {
	DishStrings []string `json:"dish_strings"`
}

// MenuPayloadItem is one menu item as returned by a model. All fields except
// the names are optional; the aggregator fills gaps from other sources.
type MenuPayloadItem struct {
	DishKey        string   `json:"dish_key,omitempty"`
	OriginalName   string   `json:"original_name"`
	TranslatedName string   `json:"translated_name"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IsTop          bool     `json:"is_top3,omitempty"`
	ImagePrompt    string   `json:"image_prompt,omitempty"`
	Romanization   string   `json:"romanji,omitempty"`
}

// MenuPayload is the structured output of a full-parse or translation call.
type MenuPayload struct {
	MenuItems []MenuPayloadItem `json:"menu_items"`
}

package scan

// Step names carried by status events.
const (
	StepAnalyzing   = "analyzing"
	StepTranslating = "translating"
	StepGenerating  = "generating_images"
)

// User-facing messages, kept in the wire language clients expect.
const (
	msgAnalyzing       = "正在分析菜單圖片…"
	msgStillAnalyzing  = "仍在辨識中，請稍候…"
	msgSegmentProgress = "菜單較複雜，正在進行第 %d/%d 區塊辨識…"
	msgTranslating     = "正在翻譯菜名…"
	msgStillWorking    = "處理中，請稍候…"
	msgGenerating      = "正在為推薦菜色繪製插圖…"

	errMsgInvalidImage = "圖片格式不正確，請重新拍攝後再試一次。"
	errMsgVLMTimeout   = "菜單辨識逾時，請稍後再試。"
	errMsgVLMFailed    = "菜單辨識失敗，請稍後再試。"
	errMsgModelAccess  = "目前模型服務暫時無法使用，請稍後再試。"
	errMsgInternal     = "系統發生錯誤，請稍後再試。"
)

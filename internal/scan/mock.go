package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
)

// mockDishes is the canned menu used when no model provider is configured,
// keeping the full client flow demonstrable offline.
var mockDishes = []vlm.MenuPayloadItem{
	{OriginalName: "唐揚げ", TranslatedName: "日式炸雞", Description: "外酥內嫩的經典居酒屋炸雞", Tags: []string{"炸物", "雞肉"}, IsTop: true, Romanization: "karaage"},
	{OriginalName: "刺身盛り合わせ", TranslatedName: "綜合生魚片", Description: "當日鮮魚拼盤", Tags: []string{"生食", "海鮮"}, IsTop: true, Romanization: "sashimi moriawase"},
	{OriginalName: "焼き鳥", TranslatedName: "烤雞串", Description: "炭火直烤的雞肉串", Tags: []string{"串燒"}, IsTop: true, Romanization: "yakitori"},
	{OriginalName: "抹茶アイス", TranslatedName: "抹茶冰淇淋", Description: "餐後抹茶甜點", Tags: []string{"甜點"}, Romanization: "matcha aisu"},
}

// runMock emits a staged canned session: recognition snapshot, then ready
// image updates for the top picks. Delays are short and cancellable.
func (s *session) runMock(ctx context.Context) {
	for _, dish := range mockDishes {
		s.agg.Merge(dish)
	}
	if !sleepCtx(ctx, 300*time.Millisecond) {
		return
	}
	s.em.MenuData(types.MenuDataPayload{SessionID: s.id, Items: s.agg.Snapshot()})

	keys := s.agg.SelectTop(s.o.opt.MaxTopItems)
	s.status(StepGenerating, msgGenerating)
	for _, key := range keys {
		if !sleepCtx(ctx, 200*time.Millisecond) {
			return
		}
		item, ok := s.agg.Item(key)
		if !ok {
			continue
		}
		item.ImageStatus = types.ImageReady
		s.em.ImageUpdate(types.ImageUpdatePayload{
			SessionID:   s.id,
			ItemID:      item.ID,
			ImageStatus: types.ImageReady,
			ImageURL:    fmt.Sprintf("https://picsum.photos/seed/%s-%s/512", s.id, item.ID),
		})
	}

	s.done("completed")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

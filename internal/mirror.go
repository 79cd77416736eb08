package internal

// Mirror 把出兵座標從發送方視角轉換到對手視角
//
// 兩位玩家的畫面上下相反：發送方靠近底部的出兵，對手看到的位置應該靠近頂部。
//
//	x' = x
//	y' = canvasHeight - y - entitySize
//
// 結果夾在 [0, canvasWidth-entitySize] 與 [0, canvasHeight-entitySize] 之內。
// 純函數，不依賴房間狀態。
func Mirror(x, y, canvasWidth, canvasHeight, entitySize float64) (float64, float64) {
	mx := clamp(x, 0, canvasWidth-entitySize)
	my := clamp(canvasHeight-y-entitySize, 0, canvasHeight-entitySize)
	return mx, my
}

// Mirror 使用標準畫布設定轉換座標
func (s Settings) Mirror(x, y float64) (float64, float64) {
	return Mirror(x, y, s.CanvasWidth, s.CanvasHeight, s.EntitySize)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

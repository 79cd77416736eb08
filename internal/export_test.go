package internal

import "time"

// SetIDGenerator 替換房間 ID 產生器（測試用）
func (g *Registry) SetIDGenerator(f func() string) {
	g.newID = f
}

// SetClock 替換時鐘（測試用）
func (g *Registry) SetClock(now func() time.Time) {
	g.now = now
}

// SetClock 替換時鐘（測試用）
func (r *Relay) SetClock(now func() time.Time) {
	r.now = now
}

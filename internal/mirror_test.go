package internal_test

import (
	"testing"

	"github.com/koopa0/system-design/14-spawn-relay/internal"
	"github.com/stretchr/testify/assert"
)

// TestMirror 測試座標鏡像
func TestMirror(t *testing.T) {
	const (
		w = 480.0
		h = 720.0
		e = 120.0
	)

	tests := []struct {
		name   string
		x, y   float64
		wx, wy float64
	}{
		{name: "bottom edge maps to top", x: 100, y: 600, wx: 100, wy: 0},
		{name: "top edge maps to bottom", x: 100, y: 0, wx: 100, wy: 600},
		{name: "center stays centered", x: 180, y: 300, wx: 180, wy: 300},
		{name: "y below canvas is clamped to top", x: 0, y: 700, wx: 0, wy: 0},
		{name: "negative y is clamped to bottom", x: 0, y: -50, wx: 0, wy: 600},
		{name: "x beyond right edge", x: 470, y: 0, wx: 360, wy: 600},
		{name: "negative x", x: -10, y: 0, wx: 0, wy: 600},
		{name: "fractional", x: 12.5, y: 100.25, wx: 12.5, wy: 499.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := internal.Mirror(tt.x, tt.y, w, h, e)
			assert.Equal(t, tt.wx, x)
			assert.Equal(t, tt.wy, y)
		})
	}
}

// TestMirror_Involution 範圍內的座標鏡像兩次回到原點
func TestMirror_Involution(t *testing.T) {
	settings := internal.DefaultSettings()

	for x := 0.0; x <= settings.CanvasWidth-settings.EntitySize; x += 40 {
		for y := 0.0; y <= settings.CanvasHeight-settings.EntitySize; y += 30 {
			mx, my := settings.Mirror(x, y)
			rx, ry := settings.Mirror(mx, my)

			assert.Equal(t, x, rx)
			assert.Equal(t, y, ry)
			assert.GreaterOrEqual(t, my, 0.0)
			assert.LessOrEqual(t, my, settings.CanvasHeight-settings.EntitySize)
		}
	}
}

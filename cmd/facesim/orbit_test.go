package main

import (
	"math"
	"testing"
	"time"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOrbitBox(t *testing.T) {
	o := orbit{centerX: 640, centerY: 360, radius: 200, size: 100, period: 4 * time.Second}

	tests := []struct {
		at   time.Duration
		want [4]float64
	}{
		{0, [4]float64{310, 890, 410, 790}},               // right of centre
		{time.Second, [4]float64{510, 690, 610, 590}},     // below
		{2 * time.Second, [4]float64{310, 490, 410, 390}}, // left
		{4 * time.Second, [4]float64{310, 890, 410, 790}}, // full turn
	}

	for _, tt := range tests {
		got := o.box(tt.at, 0)
		for i := range got {
			if !near(got[i], tt.want[i]) {
				t.Errorf("box(%v) = %v, want %v", tt.at, got, tt.want)
				break
			}
		}
	}
}

func TestOrbitBoxStaticWithoutPeriod(t *testing.T) {
	o := orbit{centerX: 100, centerY: 100, radius: 0, size: 20}
	got := o.box(time.Hour, 0)
	want := [4]float64{90, 110, 110, 90}
	if got != want {
		t.Errorf("box = %v, want %v", got, want)
	}
}

func TestOrbitFrameSpreadsFaces(t *testing.T) {
	o := orbit{centerX: 640, centerY: 360, radius: 100, size: 50, period: time.Second}
	boxes := o.frame(0, []string{"alice", "bob"})
	if len(boxes) != 2 {
		t.Fatalf("got %d boxes, want 2", len(boxes))
	}
	// bob sits opposite alice
	aliceX := (boxes[0][1] + boxes[0][3]) / 2
	bobX := (boxes[1][1] + boxes[1][3]) / 2
	if !near(aliceX, 740) || !near(bobX, 540) {
		t.Errorf("centres x = %v, %v, want 740, 540", aliceX, bobX)
	}
}

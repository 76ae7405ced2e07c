package tracking

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestPIDController_Proportional(t *testing.T) {
	c := NewPIDController(Gains{Kp: 0.02})

	if got := c.Update(150, 0); got != 3.0 {
		t.Errorf("Expected output 3.0 for error 150, got %v", got)
	}
	if got := c.Update(-50, 200*time.Millisecond); got != -1.0 {
		t.Errorf("Expected output -1.0 for error -50, got %v", got)
	}
}

func TestPIDController_ZeroDtHasNoDerivative(t *testing.T) {
	c := NewPIDController(Gains{Kd: 1})

	if got := c.Update(100, 0); got != 0 {
		t.Errorf("Expected zero derivative output with dt=0, got %v", got)
	}
	if got := c.Update(50, -time.Second); got != 0 {
		t.Errorf("Expected zero derivative output with negative dt, got %v", got)
	}
	if got := c.Update(150, 500*time.Millisecond); math.Abs(got-200) > 1e-9 {
		t.Errorf("Expected derivative output 200, got %v", got)
	}
}

func TestPIDController_Integral(t *testing.T) {
	c := NewPIDController(Gains{Ki: 0.5})

	c.Update(10, time.Second)
	c.Update(10, time.Second)
	got := c.Update(-4, 500*time.Millisecond)

	if math.Abs(c.Integral()-18) > 1e-9 {
		t.Errorf("Expected integral 18, got %v", c.Integral())
	}
	if math.Abs(got-9) > 1e-9 {
		t.Errorf("Expected output 9, got %v", got)
	}
	if c.LastError() != -4 {
		t.Errorf("Expected last error -4, got %v", c.LastError())
	}
}

func TestPIDController_Deterministic(t *testing.T) {
	gains := Gains{Kp: 0.021, Ki: 0.003, Kd: 0.0007}
	rng := rand.New(rand.NewSource(7))

	type step struct {
		err float64
		dt  time.Duration
	}
	steps := make([]step, 500)
	for i := range steps {
		steps[i] = step{
			err: rng.Float64()*800 - 400,
			dt:  time.Duration(rng.Intn(300)) * time.Millisecond,
		}
	}

	a := NewPIDController(gains)
	b := NewPIDController(gains)
	for i, s := range steps {
		oa := a.Update(s.err, s.dt)
		ob := b.Update(s.err, s.dt)
		if math.Float64bits(oa) != math.Float64bits(ob) {
			t.Fatalf("step %d: outputs differ: %v vs %v", i, oa, ob)
		}
	}
}

func TestPIDController_IndependentAxes(t *testing.T) {
	x := NewPIDController(Gains{Ki: 1})
	y := NewPIDController(Gains{Ki: 1})

	x.Update(100, time.Second)

	if y.Integral() != 0 {
		t.Errorf("Expected y integral untouched, got %v", y.Integral())
	}
}

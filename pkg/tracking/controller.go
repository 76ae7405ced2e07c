package tracking

import "time"

// Gains are the PID coefficients for one axis.
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

// PIDController turns a scalar error into a corrective command.
// Output is not clamped; the actuator bounds the resulting angles.
type PIDController struct {
	gains Gains

	// State
	integral  float64
	lastError float64
}

// NewPIDController creates a controller with zeroed state.
func NewPIDController(gains Gains) *PIDController {
	return &PIDController{gains: gains}
}

// Update advances the controller by dt and returns the command for err.
// The derivative term is zero when dt is not positive.
func (c *PIDController) Update(err float64, dt time.Duration) float64 {
	secs := dt.Seconds()
	c.integral += err * secs

	var derivative float64
	if secs > 0 {
		derivative = (err - c.lastError) / secs
	}
	c.lastError = err

	return c.gains.Kp*err + c.gains.Ki*c.integral + c.gains.Kd*derivative
}

// Gains returns the configured coefficients.
func (c *PIDController) Gains() Gains {
	return c.gains
}

// Integral returns the accumulated error.
func (c *PIDController) Integral() float64 {
	return c.integral
}

// LastError returns the error from the previous update.
func (c *PIDController) LastError() float64 {
	return c.lastError
}

package servo

import (
	"math"
	"strconv"
)

// EncodeFrame renders one command line for the gimbal sketch: the two axis
// values separated by a comma and terminated by a newline. Values are whole
// degrees, or pulse widths in microseconds when useMicro is set.
func EncodeFrame(a Angles, o Options) []byte {
	buf := make([]byte, 0, 16)
	for i, v := range a {
		if i > 0 {
			buf = append(buf, ',')
		}
		if o.UseMicro {
			buf = strconv.AppendInt(buf, int64(PulseWidth(v, o)), 10)
		} else {
			buf = strconv.AppendInt(buf, int64(math.Round(v)), 10)
		}
	}
	return append(buf, '\n')
}

// PulseWidth maps an angle in [0, Travel] linearly onto [MinPulse, MaxPulse].
func PulseWidth(angle float64, o Options) int {
	travel := o.Travel
	if travel <= 0 {
		travel = 180
	}
	frac := clamp(angle/travel, 0, 1)
	return o.MinPulse + int(math.Round(frac*float64(o.MaxPulse-o.MinPulse)))
}

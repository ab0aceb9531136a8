package integrate

import "fmt"

// State is the position of one level transition in its state machine.
type State int

const (
	AwaitingCalibration State = iota
	Calibrated
	Integrated
	OutlierCheck
	ReIntegrated
	NextLevel
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingCalibration:
		return "awaiting-calibration"
	case Calibrated:
		return "calibrated"
	case Integrated:
		return "integrated"
	case OutlierCheck:
		return "outlier-check"
	case ReIntegrated:
		return "re-integrated"
	case NextLevel:
		return "next-level"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// terminal reports whether the machine stops in s.
func (s State) terminal() bool {
	return s == NextLevel || s == Done
}

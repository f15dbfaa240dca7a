// Package egm implements the realtime UDP channel (Externally Guided
// Motion) used to stream joint feedback from an ABB IRC5 controller and
// return correction targets.
package egm

// ExecState mirrors the controller's RAPID execution state enum, as
// carried in an EGM feedback frame.
type ExecState int

const (
	ExecStateUnknown ExecState = iota
	ExecStateRunning
	ExecStateStopped
)

// MotorState mirrors the controller's motor state enum.
type MotorState int

const (
	MotorStateUnknown MotorState = iota
	MotorStateOn
	MotorStateOff
)

// RobotState is the decoded form of one EGM feedback datagram.
//
// JointAngles is in radians and nil if the frame carried no joint
// feedback. RapidRunning and MotorsOn default to false when the frame
// did not report the corresponding field, per spec.
type RobotState struct {
	JointAngles  []float64
	RapidRunning bool
	MotorsOn     bool

	// Raw is the undecoded frame, kept for diagnostics.
	Raw []byte
}

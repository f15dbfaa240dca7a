package egm

import (
	"encoding/binary"
	"fmt"
)

// Wire format.
//
// EGM frames are normally carried as protobuf messages (egm_pb2.EgmRobot /
// EgmSensor in the reference implementation). Generating and vendoring
// protobuf bindings is out of scope for this package (see DESIGN.md), so
// frames here use a small self-contained binary layout that preserves the
// same fields a caller needs: header {mtype, seqno}, an optional joint
// array in degrees, and optional exec/motor state flags.
//
// Feedback frame (robot -> host):
//
//	byte     presence bitmask (bit0 joints, bit1 execstate, bit2 motorstate)
//	[if bit0] byte jointCount, jointCount * float32 (degrees, big-endian)
//	[if bit1] byte execState  (0 = other, 1 = RAPID_RUNNING)
//	[if bit2] byte motorState (0 = other, 1 = MOTORS_ON)
//
// Correction frame (host -> robot):
//
//	byte     mtype (1 = MSGTYPE_CORRECTION)
//	uint32   seqno (big-endian)
//	byte     jointCount, jointCount * float32 (degrees, big-endian)

const (
	msgTypeCorrection = 1

	feedbackHasJoints     = 1 << 0
	feedbackHasExecState  = 1 << 1
	feedbackHasMotorState = 1 << 2
)

// encodeCorrection serialises a correction message with the given
// sequence number and joint angles expressed in degrees.
func encodeCorrection(seqno uint32, jointDegrees []float64) []byte {
	buf := make([]byte, 0, 1+4+1+4*len(jointDegrees))
	buf = append(buf, msgTypeCorrection)
	buf = binary.BigEndian.AppendUint32(buf, seqno)
	buf = append(buf, byte(len(jointDegrees)))
	for _, d := range jointDegrees {
		buf = binary.BigEndian.AppendUint32(buf, float32bits(d))
	}
	return buf
}

// decodeFeedback parses a feedback datagram into its optional fields.
func decodeFeedback(data []byte) (jointDegrees []float64, execState ExecState, motorState MotorState, err error) {
	if len(data) < 1 {
		return nil, ExecStateUnknown, MotorStateUnknown, fmt.Errorf("egm: feedback frame too short")
	}
	presence := data[0]
	off := 1

	if presence&feedbackHasJoints != 0 {
		if off >= len(data) {
			return nil, 0, 0, fmt.Errorf("egm: truncated joint count")
		}
		n := int(data[off])
		off++
		if off+n*4 > len(data) {
			return nil, 0, 0, fmt.Errorf("egm: truncated joint payload")
		}
		jointDegrees = make([]float64, n)
		for i := 0; i < n; i++ {
			jointDegrees[i] = float64(float32frombits(binary.BigEndian.Uint32(data[off : off+4])))
			off += 4
		}
	}

	execState = ExecStateUnknown
	if presence&feedbackHasExecState != 0 {
		if off >= len(data) {
			return nil, 0, 0, fmt.Errorf("egm: truncated exec state")
		}
		if data[off] == 1 {
			execState = ExecStateRunning
		} else {
			execState = ExecStateStopped
		}
		off++
	}

	motorState = MotorStateUnknown
	if presence&feedbackHasMotorState != 0 {
		if off >= len(data) {
			return nil, 0, 0, fmt.Errorf("egm: truncated motor state")
		}
		if data[off] == 1 {
			motorState = MotorStateOn
		} else {
			motorState = MotorStateOff
		}
		off++
	}

	return jointDegrees, execState, motorState, nil
}

package egm

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

// DefaultPort is the UDP port the controller's EGM sender targets by
// convention.
const DefaultPort = 6510

// Endpoint owns a bound UDP socket, the peer address learned from the
// first received datagram, and a strictly increasing outbound sequence
// counter.
type Endpoint struct {
	conn *net.UDPConn

	mu       sync.Mutex
	peerAddr *net.UDPAddr
	seqno    uint32

	packetsReceived uint64
	packetsSent     uint64
	decodeErrors    uint64
}

// NewEndpoint binds a UDP socket on the given local port. Port 0 lets
// the kernel choose; DefaultPort (6510) is the conventional EGM port.
func NewEndpoint(port int) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("egm: bind port %d: %w", port, err)
	}
	return &Endpoint{conn: conn}, nil
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Receive waits up to timeout for one feedback datagram. It returns
// (false, nil, nil) on timeout, surfaces any I/O error other than a
// read deadline being hit, and on success records the sender as the
// new peer and returns the decoded state.
func (e *Endpoint) Receive(timeout time.Duration) (bool, *RobotState, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, nil, fmt.Errorf("egm: set read deadline: %w", err)
	}

	buf := make([]byte, 65536)
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("egm: receive: %w", err)
	}

	e.mu.Lock()
	e.peerAddr = addr
	e.packetsReceived++
	e.mu.Unlock()

	data := append([]byte(nil), buf[:n]...)
	jointDegrees, execState, motorState, err := decodeFeedback(data)
	if err != nil {
		e.mu.Lock()
		e.decodeErrors++
		e.mu.Unlock()
		return false, nil, fmt.Errorf("egm: decode: %w", err)
	}

	var jointRadians []float64
	if jointDegrees != nil {
		jointRadians = make([]float64, len(jointDegrees))
		for i, d := range jointDegrees {
			jointRadians[i] = deg2rad(d)
		}
	}

	return true, &RobotState{
		JointAngles:  jointRadians,
		RapidRunning: execState == ExecStateRunning,
		MotorsOn:     motorState == MotorStateOn,
		Raw:          data,
	}, nil
}

// Send builds and transmits a correction message carrying jointAngles
// (radians) to the last observed peer. It returns false if no peer has
// been observed yet or the send fails; true on success. The sequence
// number is incremented exactly once per call, win or lose on the
// socket write.
func (e *Endpoint) Send(jointAngles []float64) bool {
	e.mu.Lock()
	peer := e.peerAddr
	if peer == nil {
		e.mu.Unlock()
		return false
	}
	e.seqno++
	seqno := e.seqno
	e.mu.Unlock()

	jointDegrees := make([]float64, len(jointAngles))
	for i, r := range jointAngles {
		jointDegrees[i] = rad2deg(r)
	}

	frame := encodeCorrection(seqno, jointDegrees)

	if _, err := e.conn.WriteToUDP(frame, peer); err != nil {
		return false
	}

	e.mu.Lock()
	e.packetsSent++
	e.mu.Unlock()

	return true
}

// Metrics is a snapshot of the endpoint's packet counters, used by the
// metrics layer.
type Metrics struct {
	PacketsReceived uint64
	PacketsSent     uint64
	DecodeErrors    uint64
}

// Snapshot returns the current counters.
func (e *Endpoint) Snapshot() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metrics{
		PacketsReceived: e.packetsReceived,
		PacketsSent:     e.packetsSent,
		DecodeErrors:    e.decodeErrors,
	}
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

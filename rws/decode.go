package rws

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Response decoding replaces the reference client's BeautifulSoup
// scraping with a typed decoder over golang.org/x/net/html: each
// resource type in a Robot Web Services response is a <div class="...">
// containing <span class="..."> leaf fields. A single walk collects
// every span's class and text into a flat map, and per-resource decode
// functions pull the fields they need out of it.

var numericScalar = regexp.MustCompile(`-?\d+(\.\d+)?`)

// spanFields walks an XHTML document and returns the text content of
// every span, div and a element keyed by its class attribute. Later
// elements with a repeated class overwrite earlier ones; callers that
// need every occurrence (e.g. event log entries, IPC messages) use
// liItems instead.
func spanFields(r io.Reader) (map[string]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("rws: parse xhtml: %w", err)
	}
	out := map[string]string{}
	walkSpans(doc, func(class, text string) {
		out[class] = text
	})
	return out, nil
}

// spanFieldSet is one XHTML element's class->text fields, used to
// represent one list item (e.g. one event log entry or one digital
// signal) among several siblings in a response.
type spanFieldSet map[string]string

// liItems walks an XHTML document and groups class/text spans by their
// nearest enclosing <li> element, returning one spanFieldSet per <li>.
// Robot Web Services list responses (event log, digital signal list,
// IPC queue messages) wrap each item in its own <li>.
func liItems(r io.Reader) ([]spanFieldSet, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("rws: parse xhtml: %w", err)
	}
	var items []spanFieldSet
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			fields := spanFieldSet{}
			walkSpans(n, func(class, text string) {
				fields[class] = text
			})
			items = append(items, fields)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return items, nil
}

func walkSpans(n *html.Node, fn func(class, text string)) {
	if n.Type == html.ElementNode && (n.Data == "span" || n.Data == "div" || n.Data == "a") {
		class := attr(n, "class")
		if class != "" {
			fn(class, strings.TrimSpace(textContent(n)))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkSpans(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// requireFloat pulls a required numeric span out of fields, reporting a
// ProtocolError under class if it is missing or unparseable.
func requireFloat(fields map[string]string, class string) (float64, error) {
	v, ok := fields[class]
	if !ok {
		return 0, &ProtocolError{Field: class, Reason: "missing"}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, &ProtocolError{Field: class, Reason: err.Error()}
	}
	return f, nil
}

// requireMM is requireFloat with a millimetres-to-metres conversion,
// for the translation fields of a robtarget.
func requireMM(fields map[string]string, class string) (float64, error) {
	f, err := requireFloat(fields, class)
	if err != nil {
		return 0, err
	}
	return f / 1000, nil
}

// requireInt pulls a required integer span out of fields.
func requireInt(fields map[string]string, class string) (int, error) {
	v, ok := fields[class]
	if !ok {
		return 0, &ProtocolError{Field: class, Reason: "missing"}
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &ProtocolError{Field: class, Reason: err.Error()}
	}
	return n, nil
}

// extAxisClasses are the external-axis span classes shared by jointtarget
// and robtarget responses.
var extAxisClasses = [...]string{"eax_a", "eax_b", "eax_c", "eax_d", "eax_e", "eax_f"}

// decodeExternalAxes reads whichever of eax_a..eax_f are present
// (degrees on the wire) and returns them in radians, or nil if the
// mechanical unit has no external axes.
func decodeExternalAxes(fields map[string]string) []float64 {
	var deg []float64
	for _, class := range extAxisClasses {
		v, ok := fields[class]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		deg = append(deg, f)
	}
	return degSliceToRad(deg)
}

// decodeControllerErrorBody extracts the status code/message pair the
// controller embeds in a non-2xx response body.
func decodeControllerErrorBody(r io.Reader) (*ControllerError, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	codeText, ok := fields["code"]
	if !ok {
		return nil, &ProtocolError{Field: "code", Reason: "missing from error body"}
	}
	code, err := parseScalarInt(codeText)
	if err != nil {
		return nil, &ProtocolError{Field: "code", Reason: err.Error()}
	}
	return &ControllerError{Code: code, Message: fields["msg"]}, nil
}

// ExecutionState is the RAPID program execution state reported by
// rw/rapid/execution.
type ExecutionState struct {
	CtrlExecState string
	CycleMode     string
}

func decodeExecutionState(r io.Reader) (*ExecutionState, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	state, ok := fields["ctrlexecstate"]
	if !ok {
		return nil, &ProtocolError{Field: "ctrlexecstate", Reason: "missing"}
	}
	return &ExecutionState{CtrlExecState: state, CycleMode: fields["cycle"]}, nil
}

// ControllerState is the panel controller state reported by
// rw/panel/ctrlstate.
type ControllerState struct {
	State string
}

func decodeControllerState(r io.Reader) (*ControllerState, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	state, ok := fields["ctrlstate"]
	if !ok {
		return nil, &ProtocolError{Field: "ctrlstate", Reason: "missing"}
	}
	return &ControllerState{State: state}, nil
}

// OperationMode is the panel operation mode reported by
// rw/panel/opmode.
type OperationMode struct {
	Mode string
}

func decodeOperationMode(r io.Reader) (*OperationMode, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	mode, ok := fields["opmode"]
	if !ok {
		return nil, &ProtocolError{Field: "opmode", Reason: "missing"}
	}
	return &OperationMode{Mode: mode}, nil
}

// DigitalSignal is one signal's name and current logical value.
type DigitalSignal struct {
	Name  string
	Value bool
}

func decodeDigitalSignal(r io.Reader) (*DigitalSignal, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	name, ok := fields["name"]
	if !ok {
		return nil, &ProtocolError{Field: "name", Reason: "missing"}
	}
	lvalue, ok := fields["lvalue"]
	if !ok {
		return nil, &ProtocolError{Field: "lvalue", Reason: "missing"}
	}
	return &DigitalSignal{Name: name, Value: lvalue == "1"}, nil
}

// RapidVariable is a named RAPID variable's raw textual value, still in
// controller syntax (use valuecodec.go to parse arrays/targets).
type RapidVariable struct {
	Name  string
	Value string
}

func decodeRapidVariable(r io.Reader) (*RapidVariable, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	value, ok := fields["value"]
	if !ok {
		return nil, &ProtocolError{Field: "value", Reason: "missing"}
	}
	return &RapidVariable{Name: fields["name"], Value: value}, nil
}

// rawAxisClasses are the robot-axis span classes of a native jointtarget
// resource, in ascending order. The decoder looks each one up by name
// in this order, so RobAx is ordered by axis number whatever order the
// spans have in the response.
var rawAxisClasses = [...]string{"rax_1", "rax_2", "rax_3", "rax_4", "rax_5", "rax_6"}

// decodeJointTarget reads a mechanical unit's native jointtarget
// resource (rax_1..rax_6, degrees, plus eax_a..eax_f if present) rather
// than the bracketed text form a RAPID jointtarget variable carries;
// see valuecodec.go for that form.
func decodeJointTarget(r io.Reader) (JointTarget, error) {
	fields, err := spanFields(r)
	if err != nil {
		return JointTarget{}, err
	}
	robDeg := make([]float64, len(rawAxisClasses))
	for i, class := range rawAxisClasses {
		f, err := requireFloat(fields, class)
		if err != nil {
			return JointTarget{}, err
		}
		robDeg[i] = f
	}
	return JointTarget{RobAx: degSliceToRad(robDeg), ExtAx: decodeExternalAxes(fields)}, nil
}

// RobTarget is a mechanical unit's Cartesian pose: translation in
// metres, orientation quaternion in [w,x,y,z] order as reported,
// robot configuration quadrant, and external axes in radians (nil if
// the unit has none).
type RobTarget struct {
	Trans [3]float64
	Quat  [4]float64
	Conf  RobTargetConfig
	ExtAx []float64
}

// RobTargetConfig is a robtarget's axis configuration quadrant.
type RobTargetConfig struct {
	CF1, CF4, CF6, CFX int
}

func decodeRobTarget(r io.Reader) (*RobTarget, error) {
	fields, err := spanFields(r)
	if err != nil {
		return nil, err
	}
	x, err := requireMM(fields, "x")
	if err != nil {
		return nil, err
	}
	y, err := requireMM(fields, "y")
	if err != nil {
		return nil, err
	}
	z, err := requireMM(fields, "z")
	if err != nil {
		return nil, err
	}
	q1, err := requireFloat(fields, "q1")
	if err != nil {
		return nil, err
	}
	q2, err := requireFloat(fields, "q2")
	if err != nil {
		return nil, err
	}
	q3, err := requireFloat(fields, "q3")
	if err != nil {
		return nil, err
	}
	q4, err := requireFloat(fields, "q4")
	if err != nil {
		return nil, err
	}
	cf1, err := requireInt(fields, "cf1")
	if err != nil {
		return nil, err
	}
	cf4, err := requireInt(fields, "cf4")
	if err != nil {
		return nil, err
	}
	cf6, err := requireInt(fields, "cf6")
	if err != nil {
		return nil, err
	}
	cfx, err := requireInt(fields, "cfx")
	if err != nil {
		return nil, err
	}

	return &RobTarget{
		Trans: [3]float64{x, y, z},
		Quat:  [4]float64{q1, q2, q3, q4},
		Conf:  RobTargetConfig{CF1: cf1, CF4: cf4, CF6: cf6, CFX: cfx},
		ExtAx: decodeExternalAxes(fields),
	}, nil
}

// EventLogSeverity is the message-type classification of an event log
// entry, as the controller reports it on the wire (1=info, 2=warning,
// 3=error).
type EventLogSeverity int

const (
	EventLogInfo    EventLogSeverity = 1
	EventLogWarning EventLogSeverity = 2
	EventLogError   EventLogSeverity = 3
)

func (s EventLogSeverity) String() string {
	switch s {
	case EventLogInfo:
		return "info"
	case EventLogWarning:
		return "warning"
	case EventLogError:
		return "error"
	default:
		return "unknown"
	}
}

// eventLogTimestampLayout matches the controller's literal
// "YYYY-MM-DD T  HH:MM:SS" format, including the double space before
// the time of day.
const eventLogTimestampLayout = "2006-01-02 T  15:04:05"

// EventLogEntry is one entry from the controller's event log.
type EventLogEntry struct {
	MsgType   EventLogSeverity
	Code      int
	Timestamp time.Time
	Args      []string
	Title     string
	Desc      string
	Conseqs   string
	Causes    string
	Actions   string
}

func decodeEventLog(r io.Reader) ([]EventLogEntry, error) {
	items, err := liItems(r)
	if err != nil {
		return nil, err
	}
	out := make([]EventLogEntry, 0, len(items))
	for _, fields := range items {
		msgType, err := parseScalarInt(fields["msgtype"])
		if err != nil {
			continue
		}
		code, err := parseScalarInt(fields["code"])
		if err != nil {
			continue
		}
		ts, err := time.Parse(eventLogTimestampLayout, strings.TrimSpace(fields["tstamp"]))
		if err != nil {
			continue
		}

		argc, _ := parseScalarInt(fields["argc"])
		var args []string
		for i := 1; i <= argc; i++ {
			args = append(args, fields[fmt.Sprintf("arg%d", i)])
		}

		out = append(out, EventLogEntry{
			MsgType:   EventLogSeverity(msgType),
			Code:      code,
			Timestamp: ts,
			Args:      args,
			Title:     fields["title"],
			Desc:      fields["desc"],
			Conseqs:   fields["conseqs"],
			Causes:    fields["causes"],
			Actions:   fields["actions"],
		})
	}
	return out, nil
}

// IPCMessage is one message read from an IPC queue.
type IPCMessage struct {
	Data    []byte
	UserDef int
	MsgType int
	Cmd     int
}

// decodeIPCMessages reads the one-or-more <li>-wrapped messages a
// read_ipc_message response carries.
func decodeIPCMessages(r io.Reader) ([]IPCMessage, error) {
	items, err := liItems(r)
	if err != nil {
		return nil, err
	}
	out := make([]IPCMessage, 0, len(items))
	for _, fields := range items {
		data, ok := fields["dipc-data"]
		if !ok {
			continue
		}
		userDef, _ := parseScalarInt(fields["dipc-userdef"])
		msgType, _ := parseScalarInt(fields["dipc-msgtype"])
		cmd, _ := parseScalarInt(fields["dipc-cmd"])
		out = append(out, IPCMessage{
			Data:    []byte(data),
			UserDef: userDef,
			MsgType: msgType,
			Cmd:     cmd,
		})
	}
	return out, nil
}

// parseScalarInt extracts a single integer scalar from free-form span
// text (e.g. "12" or "Value: 12"); a regex is acceptable here per
// spec's redesign note since this is a scalar, not a bracketed array.
func parseScalarInt(s string) (int, error) {
	m := numericScalar.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no numeric scalar in %q", s)
	}
	return strconv.Atoi(m)
}

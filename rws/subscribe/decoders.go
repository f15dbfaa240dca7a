package subscribe

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Pushed subscription frames carry the same XHTML shape as a regular
// Robot Web Services response body; these decoders mirror the
// field-walking approach in rws/decode.go, kept separate so this
// package doesn't need to export rws's unexported walker.

func spanFields(data []byte) (map[string]string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("subscribe: parse frame: %w", err)
	}
	out := map[string]string{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "span" || n.Data == "a") {
			class := ""
			href := ""
			for _, a := range n.Attr {
				switch a.Key {
				case "class":
					class = a.Val
				case "href":
					href = a.Val
				}
			}
			if class != "" {
				out[class] = strings.TrimSpace(textContent(n))
			}
			if href != "" {
				out["href"] = href
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
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

var resourceNamePattern = regexp.MustCompile(`/([^/;]+)(?:;|$)`)

// ControllerStateEvent is a pushed rw/panel/ctrlstate update.
type ControllerStateEvent struct {
	State string
}

// DecodeControllerState is a Decoder for controller-state subscriptions.
func DecodeControllerState(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	return ControllerStateEvent{State: fields["ctrlstate"]}, nil
}

// OperationModeEvent is a pushed rw/panel/opmode update.
type OperationModeEvent struct {
	Mode string
}

// DecodeOperationMode is a Decoder for operation-mode subscriptions.
func DecodeOperationMode(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	return OperationModeEvent{Mode: fields["opmode"]}, nil
}

// ExecutionStateEvent is a pushed rw/rapid/execution update.
type ExecutionStateEvent struct {
	CtrlExecState string
}

// DecodeExecutionState is a Decoder for RAPID execution subscriptions.
func DecodeExecutionState(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	return ExecutionStateEvent{CtrlExecState: fields["ctrlexecstate"]}, nil
}

// DigitalSignalEvent is a pushed signal value change.
type DigitalSignalEvent struct {
	Name   string
	LValue float64
}

// DecodeDigitalSignal is a Decoder for digital signal subscriptions.
func DecodeDigitalSignal(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	name := fields["name"]
	if name == "" {
		name = resourceName(fields["href"])
	}
	lvalue, _ := strconv.ParseFloat(strings.TrimSpace(fields["lvalue"]), 64)
	return DigitalSignalEvent{Name: name, LValue: lvalue}, nil
}

// RapidPersistentVariableEvent is a pushed RAPID persistent variable
// change, one of the resources the distilled spec omitted but the
// controller's subscription API supports.
type RapidPersistentVariableEvent struct {
	Name  string
	Value string
}

// DecodeRapidPersistentVariable is a Decoder for RAPID persistent
// variable subscriptions.
func DecodeRapidPersistentVariable(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	name := fields["name"]
	if name == "" {
		name = resourceName(fields["href"])
	}
	return RapidPersistentVariableEvent{Name: name, Value: fields["value"]}, nil
}

// IPCQueueEvent is a pushed message arriving on a subscribed IPC queue.
type IPCQueueEvent struct {
	Data    []byte
	UserDef int
	MsgType int
	Cmd     int
}

// DecodeIPCQueue is a Decoder for IPC queue subscriptions.
func DecodeIPCQueue(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	userDef, _ := strconv.Atoi(fields["dipc-userdef"])
	msgType, _ := strconv.Atoi(fields["dipc-msgtype"])
	cmd, _ := strconv.Atoi(fields["dipc-cmd"])
	return IPCQueueEvent{
		Data:    []byte(fields["dipc-data"]),
		UserDef: userDef,
		MsgType: msgType,
		Cmd:     cmd,
	}, nil
}

// EventLogEvent is a pushed new entry in the controller's event log.
type EventLogEvent struct {
	SeqNum int
}

// DecodeEventLog is a Decoder for event log subscriptions, where the
// pushed frame carries only the new entry's sequence number; the
// caller re-reads the log to fetch the full entry.
func DecodeEventLog(frame []byte) (any, error) {
	fields, err := spanFields(frame)
	if err != nil {
		return nil, err
	}
	seq, err := strconv.Atoi(fields["seqnum"])
	if err != nil {
		return nil, fmt.Errorf("subscribe: event log frame missing seqnum: %w", err)
	}
	return EventLogEvent{SeqNum: seq}, nil
}

// resourceName pulls the trailing path segment (before any ";opt"
// suffix) out of a subscribed resource's href, used when a pushed
// frame identifies its resource only by link rather than a "name"
// field.
func resourceName(href string) string {
	m := resourceNamePattern.FindAllStringSubmatch(href, -1)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1][1]
}

// Package rws is a client for ABB's Robot Web Services: the
// HTTP/WebSocket control-plane channel alongside the realtime EGM
// feedback/correction channel in package egm.
package rws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpiRobotics/rpi-abb-irc5/internal/digest"
)

// Client is a Robot Web Services client bound to one controller.
type Client struct {
	baseURL string
	http    *http.Client
	digest  *digest.Transport
	jar     *cookiejar.Jar

	requests *prometheus.CounterVec
}

// NewClient builds a Client against baseURL (e.g.
// "https://192.168.125.1") using the given Digest credentials. reg may
// be nil to skip metrics registration.
func NewClient(baseURL, username, password string, reg prometheus.Registerer) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("rws: cookie jar: %w", err)
	}
	dt := &digest.Transport{Username: username, Password: password}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "abbmon",
		Subsystem: "rws",
		Name:      "requests_total",
		Help:      "Robot Web Services requests by operation and outcome.",
	}, []string{"operation", "outcome"})
	if reg != nil {
		if err := reg.Register(requests); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				requests = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				return nil, fmt.Errorf("rws: register metrics: %w", err)
			}
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: dt, Jar: jar, Timeout: 30 * time.Second},
		digest:  dt,
		jar:     jar,
		requests: requests,
	}, nil
}

// DigestTransport exposes the underlying Digest transport so a
// subscription manager can compute an Authorization header for the
// WebSocket upgrade request.
func (c *Client) DigestTransport() *digest.Transport { return c.digest }

// CookieJar exposes the client's cookie jar so a subscription manager
// can carry the same ABBCX session cookie onto its WebSocket dial.
func (c *Client) CookieJar() *cookiejar.Jar { return c.jar }

// BaseURL returns the controller base URL this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// do issues method against path with an optional url.Values body
// (encoded as application/x-www-form-urlencoded), classifies the
// response per the controller's status conventions, and records the
// outcome under operation for metrics.
func (c *Client) do(ctx context.Context, operation, method, path string, body url.Values) (*http.Response, error) {
	var bodyReader *strings.Reader
	if body != nil {
		bodyReader = strings.NewReader(body.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		c.requests.WithLabelValues(operation, "build_error").Inc()
		return nil, fmt.Errorf("rws: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		c.requests.WithLabelValues(operation, "transport_error").Inc()
		return nil, &TransportError{Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusInternalServerError:
		resp.Body.Close()
		c.requests.WithLabelValues(operation, "controller_internal").Inc()
		return nil, ErrControllerInternal
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.requests.WithLabelValues(operation, "ok").Inc()
		return resp, nil
	default:
		cerr, decodeErr := decodeControllerErrorBody(resp.Body)
		resp.Body.Close()
		if decodeErr != nil {
			c.requests.WithLabelValues(operation, "transport_error").Inc()
			return nil, &TransportError{Status: resp.StatusCode, Cause: decodeErr}
		}
		c.requests.WithLabelValues(operation, "controller_error").Inc()
		return nil, cerr
	}
}

// Start starts RAPID program execution with the given cycle mode
// ("asis", "once", or "forever").
func (c *Client) Start(ctx context.Context, cycle string) error {
	resp, err := c.do(ctx, "start", http.MethodPost, "/rw/rapid/execution?action=start", url.Values{
		"regain":       {"continue"},
		"execmode":     {"continue"},
		"cycle":        {cycle},
		"condition":    {"none"},
		"stopatbp":     {"disabled"},
		"alltaskbytsp": {"false"},
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Stop stops RAPID program execution.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.do(ctx, "stop", http.MethodPost, "/rw/rapid/execution?action=stop", url.Values{
		"stopmode": {"stop"},
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ResetProgramPointer resets the RAPID program pointer to the main
// routine.
func (c *Client) ResetProgramPointer(ctx context.Context) error {
	resp, err := c.do(ctx, "resetpp", http.MethodPost, "/rw/rapid/execution?action=resetpp", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetExecutionState returns the current RAPID execution state.
func (c *Client) GetExecutionState(ctx context.Context) (*ExecutionState, error) {
	resp, err := c.do(ctx, "get_execution_state", http.MethodGet, "/rw/rapid/execution", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeExecutionState(resp.Body)
}

// GetControllerState returns the current panel controller state.
func (c *Client) GetControllerState(ctx context.Context) (*ControllerState, error) {
	resp, err := c.do(ctx, "get_controller_state", http.MethodGet, "/rw/panel/ctrlstate", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeControllerState(resp.Body)
}

// GetOperationMode returns the current panel operation mode.
func (c *Client) GetOperationMode(ctx context.Context) (*OperationMode, error) {
	resp, err := c.do(ctx, "get_operation_mode", http.MethodGet, "/rw/panel/opmode", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeOperationMode(resp.Body)
}

// GetDigitalIO returns a digital signal's current value.
func (c *Client) GetDigitalIO(ctx context.Context, network, unit, signal string) (*DigitalSignal, error) {
	path := fmt.Sprintf("/rw/iosystem/signals/%s/%s/%s",
		url.PathEscape(network), url.PathEscape(unit), url.PathEscape(signal))
	resp, err := c.do(ctx, "get_digital_io", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeDigitalSignal(resp.Body)
}

// SetDigitalIO sets a digital signal's value.
func (c *Client) SetDigitalIO(ctx context.Context, network, unit, signal string, value bool) error {
	lvalue := "0"
	if value {
		lvalue = "1"
	}
	path := fmt.Sprintf("/rw/iosystem/signals/%s/%s/%s?action=set",
		url.PathEscape(network), url.PathEscape(unit), url.PathEscape(signal))
	resp, err := c.do(ctx, "set_digital_io", http.MethodPost, path, url.Values{"lvalue": {lvalue}})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetRapidVariable returns a RAPID variable's raw textual value from
// task T_ROB1.
func (c *Client) GetRapidVariable(ctx context.Context, name string) (string, error) {
	path := "/rw/rapid/symbol/data/RAPID/T_ROB1/" + url.PathEscape(name)
	resp, err := c.do(ctx, "get_rapid_variable", http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	v, err := decodeRapidVariable(resp.Body)
	if err != nil {
		return "", err
	}
	return v.Value, nil
}

// SetRapidVariable sets a RAPID variable's raw textual value in task
// T_ROB1.
func (c *Client) SetRapidVariable(ctx context.Context, name, value string) error {
	path := "/rw/rapid/symbol/data/RAPID/T_ROB1/" + url.PathEscape(name) + "?action=set"
	resp, err := c.do(ctx, "set_rapid_variable", http.MethodPost, path, url.Values{"value": {value}})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetJointTarget returns the mechanical unit's current joint target.
func (c *Client) GetJointTarget(ctx context.Context, mechUnit string) (JointTarget, error) {
	path := "/rw/motionsystem/mechunits/" + url.PathEscape(mechUnit) + "/jointtarget"
	resp, err := c.do(ctx, "get_jointtarget", http.MethodGet, path, nil)
	if err != nil {
		return JointTarget{}, err
	}
	defer resp.Body.Close()
	return decodeJointTarget(resp.Body)
}

// GetRobTarget returns the mechanical unit's current Cartesian
// robtarget relative to tool, wobj, and coordinate system.
func (c *Client) GetRobTarget(ctx context.Context, mechUnit, tool, wobj, coordinate string) (*RobTarget, error) {
	path := fmt.Sprintf("/rw/motionsystem/mechunits/%s/robtarget?tool=%s&wobj=%s&coordinate=%s",
		url.PathEscape(mechUnit), url.QueryEscape(tool), url.QueryEscape(wobj), url.QueryEscape(coordinate))
	resp, err := c.do(ctx, "get_robtarget", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeRobTarget(resp.Body)
}

// ReadEventLog returns the controller's event log entries for the
// numbered elog domain.
func (c *Client) ReadEventLog(ctx context.Context, elog int) ([]EventLogEntry, error) {
	path := fmt.Sprintf("/rw/elog/%d/?lang=en", elog)
	resp, err := c.do(ctx, "read_event_log", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeEventLog(resp.Body)
}

// ReadIPCMessage reads the pending messages from queue, waiting up to
// timeoutSeconds for one to arrive when timeoutSeconds is positive.
func (c *Client) ReadIPCMessage(ctx context.Context, queue string, timeoutSeconds int) ([]IPCMessage, error) {
	path := "/rw/dipc/" + url.PathEscape(queue) + "?action=dipc-read"
	if timeoutSeconds > 0 {
		path += "&timeout=" + strconv.Itoa(timeoutSeconds)
	}
	resp, err := c.do(ctx, "read_ipc_message", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeIPCMessages(resp.Body)
}

// SendIPCMessage posts a message to queue with the given userdef code.
func (c *Client) SendIPCMessage(ctx context.Context, queue string, data []byte, userDef int) error {
	path := "/rw/dipc/" + url.PathEscape(queue) + "?action=dipc-send"
	resp, err := c.do(ctx, "send_ipc_message", http.MethodPost, path, url.Values{
		"dipc-src-queue-name": {""},
		"dipc-cmd":            {"1"},
		"dipc-userdef":        {strconv.Itoa(userDef)},
		"dipc-data":           {string(data)},
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// TryCreateIPCQueue creates an IPC queue, treating the controller's
// "already exists" error code as a non-fatal success.
func (c *Client) TryCreateIPCQueue(ctx context.Context, queue string, maxMessages int) error {
	path := "/rw/dipc?action=dipc-create"
	resp, err := c.do(ctx, "try_create_ipc_queue", http.MethodPost, path, url.Values{
		"dipc-queue-name": {queue},
		"dipc-queue-size": {strconv.Itoa(maxMessages)},
	})
	if err != nil {
		var cerr *ControllerError
		if errors.As(err, &cerr) && cerr.Code == QueueAlreadyExistsCode {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// Package subscribe manages Robot Web Services WebSocket subscriptions:
// a resource (controller state, a digital signal, an IPC queue, ...) is
// subscribed to over HTTP, then pushed events arrive on a dedicated
// WebSocket connection using the robapi2_subscription subprotocol.
//
// The connection handling below mirrors the teacher's
// internal/websocket/server.go Client type (a receive goroutine feeding
// a bounded channel, with on_close invoked exactly once) adapted from a
// server accepting browser connections to a client dialing out to the
// controller.
package subscribe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpiRobotics/rpi-abb-irc5/internal/digest"
)

const (
	subprotocol    = "robapi2_subscription"
	readDeadline   = 70 * time.Second
	eventQueueSize = 64
)

// Decoder turns one pushed WebSocket frame's body into a caller-defined
// event value. It is invoked once per frame; returning an error drops
// that frame and logs it, without closing the subscription.
type Decoder func(frame []byte) (any, error)

// Manager creates and tears down subscriptions against one controller.
type Manager struct {
	baseURL string
	digest  *digest.Transport
	jar     *cookiejar.Jar
	log     *zap.Logger
}

// NewManager builds a Manager sharing the given rws.Client's base URL,
// Digest transport and cookie jar, so a subscription's WebSocket dial
// authenticates as the same session.
func NewManager(baseURL string, digestTransport *digest.Transport, jar *cookiejar.Jar, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{baseURL: strings.TrimRight(baseURL, "/"), digest: digestTransport, jar: jar, log: log}
}

// Subscription is a live WebSocket subscription delivering decoded
// events to a bounded channel.
type Subscription struct {
	Events chan any

	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	onClose   func(error)
}

// Subscribe creates a subscription for resources (controller-supplied
// resource URIs, e.g. "/rw/panel/ctrlstate;ctrlstate" or a digital
// signal's full path) and starts delivering decoded events to the
// returned Subscription's Events channel until the context is
// cancelled or Close is called. onClose, if non-nil, is invoked exactly
// once when the subscription ends, with the error that ended it (nil
// on a caller-initiated close).
func (m *Manager) Subscribe(ctx context.Context, resources []string, decode Decoder, onClose func(error)) (*Subscription, error) {
	wsURL, err := m.createSubscription(ctx, resources)
	if err != nil {
		return nil, fmt.Errorf("subscribe: create: %w", err)
	}

	header, err := m.upgradeHeader(wsURL)
	if err != nil {
		return nil, fmt.Errorf("subscribe: auth header: %w", err)
	}

	dialer := websocket.Dialer{
		Subprotocols: []string{subprotocol},
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("subscribe: dial: %w", err)
	}
	resp.Body.Close()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		Events:  make(chan any, eventQueueSize),
		conn:    conn,
		cancel:  cancel,
		onClose: onClose,
	}

	sub.wg.Add(1)
	go sub.receiveLoop(subCtx, decode, m.log)

	return sub, nil
}

// Close ends the subscription and waits for its receive goroutine to
// exit.
func (s *Subscription) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *Subscription) receiveLoop(ctx context.Context, decode Decoder, log *zap.Logger) {
	defer s.wg.Done()
	defer close(s.Events)

	var endErr error
	defer func() {
		s.closeOnce.Do(func() {
			if s.onClose != nil {
				s.onClose(endErr)
			}
		})
	}()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			endErr = err
			return
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				endErr = nil
			} else {
				endErr = err
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		event, err := decode(data)
		if err != nil {
			log.Warn("subscribe: dropping undecodable frame", zap.Error(err))
			continue
		}

		select {
		case s.Events <- event:
		case <-ctx.Done():
			return
		default:
			log.Warn("subscribe: event queue full, dropping frame")
		}
	}
}

// createSubscription POSTs the subscription request and returns the
// WebSocket URL the controller assigned it, taken from the response's
// Location header.
func (m *Manager) createSubscription(ctx context.Context, resources []string) (string, error) {
	form := url.Values{}
	for i, r := range resources {
		idx := strconv.Itoa(i + 1)
		form.Add("resources", idx)
		form.Set(idx, r)
		form.Set(idx+"-p", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/subscription", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Transport: m.digest, Jar: m.jar}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subscribe: unexpected status %d", resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("subscribe: response missing Location header")
	}

	wsURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("subscribe: parse Location: %w", err)
	}
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}
	return wsURL.String(), nil
}

// upgradeHeader builds the HTTP header for the WebSocket upgrade
// request: the session cookie the subscription is bound to, plus a
// Digest Authorization computed for this URL since the controller
// re-checks auth on the upgrade itself. The Authorization header is
// set only once the Digest transport has seen a challenge; without
// one the upgrade carries the cookie alone.
func (m *Manager) upgradeHeader(wsURL string) (http.Header, error) {
	header := http.Header{}

	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	httpURL := *parsed
	switch httpURL.Scheme {
	case "ws":
		httpURL.Scheme = "http"
	case "wss":
		httpURL.Scheme = "https"
	}

	if m.jar != nil {
		cookies := m.jar.Cookies(&httpURL)
		parts := make([]string, len(cookies))
		for i, c := range cookies {
			parts[i] = c.Name + "=" + c.Value
		}
		if len(parts) > 0 {
			header.Set("Cookie", strings.Join(parts, "; "))
		}
	}

	authHeader, err := m.digest.AuthorizationHeader(http.MethodGet, httpURL.String())
	if err == nil {
		header.Set("Authorization", authHeader)
	}

	return header, nil
}

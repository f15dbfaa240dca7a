// Package digest implements HTTP Digest authentication (RFC 7616) as an
// http.RoundTripper.
//
// No third-party Digest client exists anywhere in the retrieved example
// corpus (checked across all pulled repos); every HTTP auth scheme in
// those repos is either bearer/JWT or basic. This package is therefore
// the one stdlib-only component in the module — see DESIGN.md.
package digest

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Transport wraps a base http.RoundTripper, retrying any request that
// receives a 401 with a WWW-Authenticate: Digest challenge once, with
// the Authorization header computed for that challenge.
type Transport struct {
	Username string
	Password string
	Base     http.RoundTripper

	mu    sync.Mutex
	nc    uint32
	cache *challenge
}

type challenge struct {
	realm     string
	nonce     string
	opaque    string
	qop       string
	algorithm string
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Reuse a cached challenge if we have one, to avoid the extra
	// unauthenticated round trip on every request once the realm/nonce
	// are known. The controller will 401 again if the nonce has gone
	// stale, and we fall back to the full challenge/response below.
	firstReq := cloneRequest(req)
	if t.cachedAuthHeader(firstReq) != "" {
		resp, err := t.base().RoundTrip(firstReq)
		if err == nil && resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
	}

	challengeReq := cloneRequest(req)
	resp, err := t.base().RoundTrip(challengeReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	ch, err := parseChallenge(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}

	t.mu.Lock()
	t.cache = ch
	t.mu.Unlock()

	authedReq := cloneRequest(req)
	header, err := t.authorizationHeader(authedReq, ch)
	if err != nil {
		return nil, err
	}
	authedReq.Header.Set("Authorization", header)

	return t.base().RoundTrip(authedReq)
}

// AuthorizationHeader computes the Authorization header value for a
// request against the given method and URL, using the most recently
// observed challenge. It is exported so the subscription manager can
// compute a Digest header for the WebSocket upgrade request without
// going through RoundTrip.
func (t *Transport) AuthorizationHeader(method, url string) (string, error) {
	t.mu.Lock()
	ch := t.cache
	t.mu.Unlock()
	if ch == nil {
		return "", fmt.Errorf("digest: no challenge observed yet")
	}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return "", err
	}
	return t.authorizationHeader(req, ch)
}

func (t *Transport) cachedAuthHeader(req *http.Request) string {
	t.mu.Lock()
	ch := t.cache
	t.mu.Unlock()
	if ch == nil {
		return ""
	}
	header, err := t.authorizationHeader(req, ch)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", header)
	return header
}

func (t *Transport) authorizationHeader(req *http.Request, ch *challenge) (string, error) {
	t.mu.Lock()
	t.nc++
	nc := t.nc
	t.mu.Unlock()

	cnonce, err := randomHex(16)
	if err != nil {
		return "", err
	}

	ha1 := md5hex(fmt.Sprintf("%s:%s:%s", t.Username, ch.realm, t.Password))
	ha2 := md5hex(fmt.Sprintf("%s:%s", req.Method, req.URL.RequestURI()))

	ncStr := fmt.Sprintf("%08x", nc)

	var response string
	qop := ch.qop
	if qop != "" {
		response = md5hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, ch.nonce, ncStr, cnonce, qop, ha2))
	} else {
		response = md5hex(fmt.Sprintf("%s:%s:%s", ha1, ch.nonce, ha2))
	}

	parts := []string{
		fmt.Sprintf(`username="%s"`, t.Username),
		fmt.Sprintf(`realm="%s"`, ch.realm),
		fmt.Sprintf(`nonce="%s"`, ch.nonce),
		fmt.Sprintf(`uri="%s"`, req.URL.RequestURI()),
		fmt.Sprintf(`response="%s"`, response),
	}
	if ch.opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, ch.opaque))
	}
	if qop != "" {
		parts = append(parts, fmt.Sprintf(`qop=%s`, qop), fmt.Sprintf(`nc=%s`, ncStr), fmt.Sprintf(`cnonce="%s"`, cnonce))
	}

	return "Digest " + strings.Join(parts, ", "), nil
}

func parseChallenge(header string) (*challenge, error) {
	if !strings.HasPrefix(header, "Digest ") {
		return nil, fmt.Errorf("not a Digest challenge: %q", header)
	}
	fields := splitChallengeFields(strings.TrimPrefix(header, "Digest "))

	ch := &challenge{
		realm:     fields["realm"],
		nonce:     fields["nonce"],
		opaque:    fields["opaque"],
		qop:       firstQop(fields["qop"]),
		algorithm: fields["algorithm"],
	}
	if ch.realm == "" || ch.nonce == "" {
		return nil, fmt.Errorf("incomplete Digest challenge: %q", header)
	}
	return ch, nil
}

// firstQop picks the first offered qop value (usually "auth") from a
// comma-separated list such as "auth,auth-int".
func firstQop(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(raw, ",")[0])
}

func splitChallengeFields(s string) map[string]string {
	out := map[string]string{}
	for _, part := range splitTopLevelComma(s) {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}

// splitTopLevelComma splits on commas that are not inside a quoted
// string, since quoted challenge values (e.g. domain lists) may
// themselves contain commas.
func splitTopLevelComma(s string) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err == nil {
			clone.Body = body
		}
	}
	return clone
}

package rws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestGetExecutionState_DecodesSuccessResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html><body><span class="ctrlexecstate">running</span></body></html>`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "user", "pass", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	state, err := client.GetExecutionState(context.Background())
	if err != nil {
		t.Fatalf("GetExecutionState: %v", err)
	}
	if state.CtrlExecState != "running" {
		t.Errorf("CtrlExecState = %q, want running", state.CtrlExecState)
	}
}

func TestDo_500ReturnsControllerInternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "user", "pass", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GetExecutionState(context.Background())
	if err != ErrControllerInternal {
		t.Errorf("err = %v, want ErrControllerInternal", err)
	}
}

func TestTryCreateIPCQueue_TreatsAlreadyExistsAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError + 1) // arbitrary non-2xx, non-500 error status
		w.Write([]byte(`<html><body><span class="code">-1073445879</span><span class="msg">already exists</span></body></html>`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "user", "pass", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.TryCreateIPCQueue(context.Background(), "my-queue", 10); err != nil {
		t.Errorf("TryCreateIPCQueue returned %v, want nil (already-exists treated as success)", err)
	}
}

func TestTryCreateIPCQueue_PropagatesOtherControllerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`<html><body><span class="code">42</span><span class="msg">something else</span></body></html>`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "user", "pass", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = client.TryCreateIPCQueue(context.Background(), "my-queue", 10)
	cerr, ok := err.(*ControllerError)
	if !ok {
		t.Fatalf("got %T (%v), want *ControllerError", err, err)
	}
	if cerr.Code != 42 {
		t.Errorf("Code = %d, want 42", cerr.Code)
	}
}

// requestRecorder captures the method/URL/form of the single request a
// handler receives, for assertions against the wire contract.
type requestRecorder struct {
	method string
	url    string
	form   url.Values
}

func newRecordingServer(t *testing.T, status int, body string) (*httptest.Server, *requestRecorder) {
	t.Helper()
	rec := &requestRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.url = r.URL.String()
		if err := r.ParseForm(); err == nil {
			rec.form = r.PostForm
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	return server, rec
}

func TestStart_PostsExactPathAndPayload(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, err := NewClient(server.URL, "user", "pass", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.Start(context.Background(), "once"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.method != http.MethodPost {
		t.Errorf("method = %s, want POST", rec.method)
	}
	if rec.url != "/rw/rapid/execution?action=start" {
		t.Errorf("url = %s, want /rw/rapid/execution?action=start", rec.url)
	}
	wantForm := map[string]string{
		"regain": "continue", "execmode": "continue", "cycle": "once",
		"condition": "none", "stopatbp": "disabled", "alltaskbytsp": "false",
	}
	for k, v := range wantForm {
		if got := rec.form[k]; len(got) != 1 || got[0] != v {
			t.Errorf("form[%q] = %v, want [%q]", k, got, v)
		}
	}
}

func TestStop_UsesActionQueryPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.url != "/rw/rapid/execution?action=stop" {
		t.Errorf("url = %s, want /rw/rapid/execution?action=stop", rec.url)
	}
}

func TestResetProgramPointer_UsesActionQueryPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if err := client.ResetProgramPointer(context.Background()); err != nil {
		t.Fatalf("ResetProgramPointer: %v", err)
	}
	if rec.url != "/rw/rapid/execution?action=resetpp" {
		t.Errorf("url = %s, want /rw/rapid/execution?action=resetpp", rec.url)
	}
}

func TestGetDigitalIO_UsesNetworkUnitSignalPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK,
		`<html><body><span class="name">DO_1</span><span class="lvalue">1</span></body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	sig, err := client.GetDigitalIO(context.Background(), "Local", "DRV_1", "DO_1")
	if err != nil {
		t.Fatalf("GetDigitalIO: %v", err)
	}
	if rec.method != http.MethodGet {
		t.Errorf("method = %s, want GET", rec.method)
	}
	if rec.url != "/rw/iosystem/signals/Local/DRV_1/DO_1" {
		t.Errorf("url = %s, want /rw/iosystem/signals/Local/DRV_1/DO_1", rec.url)
	}
	if !sig.Value {
		t.Errorf("Value = false, want true")
	}
}

func TestSetDigitalIO_UsesActionSetQueryPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if err := client.SetDigitalIO(context.Background(), "Local", "DRV_1", "DO_1", true); err != nil {
		t.Fatalf("SetDigitalIO: %v", err)
	}
	if rec.method != http.MethodPost {
		t.Errorf("method = %s, want POST", rec.method)
	}
	if rec.url != "/rw/iosystem/signals/Local/DRV_1/DO_1?action=set" {
		t.Errorf("url = %s, want /rw/iosystem/signals/Local/DRV_1/DO_1?action=set", rec.url)
	}
	if got := rec.form["lvalue"]; len(got) != 1 || got[0] != "1" {
		t.Errorf("form[lvalue] = %v, want [1]", got)
	}
}

func TestGetRapidVariable_HardcodesTROB1Task(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK,
		`<html><body><span class="name">reg1</span><span class="value">42</span></body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	v, err := client.GetRapidVariable(context.Background(), "reg1")
	if err != nil {
		t.Fatalf("GetRapidVariable: %v", err)
	}
	if rec.url != "/rw/rapid/symbol/data/RAPID/T_ROB1/reg1" {
		t.Errorf("url = %s, want /rw/rapid/symbol/data/RAPID/T_ROB1/reg1", rec.url)
	}
	if v != "42" {
		t.Errorf("value = %q, want 42", v)
	}
}

func TestSetRapidVariable_UsesActionSetQueryPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if err := client.SetRapidVariable(context.Background(), "reg1", "42"); err != nil {
		t.Fatalf("SetRapidVariable: %v", err)
	}
	if rec.url != "/rw/rapid/symbol/data/RAPID/T_ROB1/reg1?action=set" {
		t.Errorf("url = %s, want /rw/rapid/symbol/data/RAPID/T_ROB1/reg1?action=set", rec.url)
	}
}

func TestGetJointTarget_DecodesNativeResource(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK, `<html><body>
		<span class="rax_1">1</span><span class="rax_2">2</span><span class="rax_3">3</span>
		<span class="rax_4">4</span><span class="rax_5">5</span><span class="rax_6">6</span>
		</body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	jt, err := client.GetJointTarget(context.Background(), "ROB_1")
	if err != nil {
		t.Fatalf("GetJointTarget: %v", err)
	}
	if rec.url != "/rw/motionsystem/mechunits/ROB_1/jointtarget" {
		t.Errorf("url = %s, want /rw/motionsystem/mechunits/ROB_1/jointtarget", rec.url)
	}
	if len(jt.RobAx) != 6 {
		t.Errorf("len(RobAx) = %d, want 6", len(jt.RobAx))
	}
}

func TestGetRobTarget_UsesToolWobjCoordinateQuery(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK, `<html><body>
		<span class="x">100</span><span class="y">200</span><span class="z">300</span>
		<span class="q1">1</span><span class="q2">0</span><span class="q3">0</span><span class="q4">0</span>
		<span class="cf1">0</span><span class="cf4">0</span><span class="cf6">0</span><span class="cfx">0</span>
		</body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	rt, err := client.GetRobTarget(context.Background(), "ROB_1", "tool0", "wobj0", "Base")
	if err != nil {
		t.Fatalf("GetRobTarget: %v", err)
	}
	if rec.url != "/rw/motionsystem/mechunits/ROB_1/robtarget?tool=tool0&wobj=wobj0&coordinate=Base" {
		t.Errorf("url = %s, want .../robtarget?tool=tool0&wobj=wobj0&coordinate=Base", rec.url)
	}
	if rt.Trans[0] != 0.1 {
		t.Errorf("Trans[0] = %v, want 0.1 (100mm -> 0.1m)", rt.Trans[0])
	}
}

func TestReadEventLog_UsesLangQuery(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK, `<html><body></body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if _, err := client.ReadEventLog(context.Background(), 2); err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if rec.url != "/rw/elog/2/?lang=en" {
		t.Errorf("url = %s, want /rw/elog/2/?lang=en", rec.url)
	}
}

func TestReadIPCMessage_UsesActionQueryAndTimeout(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK, `<html><body></body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if _, err := client.ReadIPCMessage(context.Background(), "RMQ_1", 5); err != nil {
		t.Fatalf("ReadIPCMessage: %v", err)
	}
	if rec.url != "/rw/dipc/RMQ_1?action=dipc-read&timeout=5" {
		t.Errorf("url = %s, want /rw/dipc/RMQ_1?action=dipc-read&timeout=5", rec.url)
	}
	if rec.method != http.MethodGet {
		t.Errorf("method = %s, want GET", rec.method)
	}
}

func TestReadIPCMessage_OmitsTimeoutWhenZero(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusOK, `<html><body></body></html>`)
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if _, err := client.ReadIPCMessage(context.Background(), "RMQ_1", 0); err != nil {
		t.Fatalf("ReadIPCMessage: %v", err)
	}
	if rec.url != "/rw/dipc/RMQ_1?action=dipc-read" {
		t.Errorf("url = %s, want /rw/dipc/RMQ_1?action=dipc-read", rec.url)
	}
}

func TestSendIPCMessage_UsesActionQueryPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if err := client.SendIPCMessage(context.Background(), "RMQ_1", []byte("hi"), 7); err != nil {
		t.Fatalf("SendIPCMessage: %v", err)
	}
	if rec.url != "/rw/dipc/RMQ_1?action=dipc-send" {
		t.Errorf("url = %s, want /rw/dipc/RMQ_1?action=dipc-send", rec.url)
	}
}

func TestTryCreateIPCQueue_UsesActionQueryPath(t *testing.T) {
	server, rec := newRecordingServer(t, http.StatusNoContent, "")
	defer server.Close()

	client, _ := NewClient(server.URL, "user", "pass", nil)
	if err := client.TryCreateIPCQueue(context.Background(), "RMQ_1", 10); err != nil {
		t.Fatalf("TryCreateIPCQueue: %v", err)
	}
	if rec.url != "/rw/dipc?action=dipc-create" {
		t.Errorf("url = %s, want /rw/dipc?action=dipc-create", rec.url)
	}
}

package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/bpmnworks/engine/internal/config"
	"github.com/bpmnworks/engine/pkg/bpmn"
	"github.com/bpmnworks/engine/pkg/storage/inmemory"
)

const approvalXML = `<?xml version="1.0"?>
<definitions id="defs" name="approval" xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="approval" isExecutable="true">
    <startEvent id="s1" name="submitted"><outgoing>f1</outgoing></startEvent>
    <userTask id="t1" name="review"><incoming>f1</incoming><outgoing>f2</outgoing></userTask>
    <endEvent id="e1" name="closed"><incoming>f2</incoming></endEvent>
    <sequenceFlow id="f1" sourceRef="s1" targetRef="t1"/>
    <sequenceFlow id="f2" sourceRef="t1" targetRef="e1"/>
  </process>
</definitions>`

func newTestServer(t *testing.T) (*httptest.Server, *bpmn.ProcessManager) {
	t.Helper()
	manager := bpmn.NewProcessManager(bpmn.WithStore(inmemory.New()))
	t.Cleanup(func() { manager.Close(nil) })
	require.NoError(t, manager.AddBpmnXML("approval", "approval.bpmn", []byte(approvalXML)))

	conf := config.Config{Server: config.Server{Context: "/", Addr: ":0"}}
	s, err := NewServer(manager, conf, hclog.NewNullLogger())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, manager
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func waitForState(t *testing.T, m *bpmn.ProcessManager, id, position string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pi, ok := m.GetInstance(id); ok && pi.State().CountAt(position) > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached %s", id, position)
}

func TestCreateWithoutStarting(t *testing.T) {
	ts, m := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/approval", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view InstanceView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, "approval", view.Name)
	require.NotEmpty(t, view.Id)
	require.Equal(t, "self", view.Link.Rel)

	pi, ok := m.GetInstance(view.Id)
	require.True(t, ok)
	require.Empty(t, pi.State().Tokens)
}

func TestCreateAndStart(t *testing.T) {
	ts, m := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/approval/submitted", map[string]interface{}{"requester": "ada"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view InstanceView
	require.NoError(t, json.Unmarshal(body, &view))
	waitForState(t, m, view.Id, "review")
}

func TestGetInstanceView(t *testing.T) {
	ts, m := newTestServer(t)
	pi, err := m.CreateProcessWithId("req-1", "approval")
	require.NoError(t, err)
	pi.SetProperty("requester", "ada")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/approval/req-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view InstanceView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, "req-1", view.Id)
	require.Equal(t, "ada", view.Properties["requester"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/approval/no-such-id", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFindByStateAndProperty(t *testing.T) {
	ts, m := newTestServer(t)

	a, err := m.CreateProcessWithId("a", "approval")
	require.NoError(t, err)
	require.NoError(t, a.TriggerEvent("submitted", nil))
	waitForState(t, m, "a", "review")
	a.SetProperty("region", "emea")

	b, err := m.CreateProcessWithId("b", "approval")
	require.NoError(t, err)
	b.SetProperty("region", "apac")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/approval?state=review", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []InstanceView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	require.Equal(t, "a", views[0].Id)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/approval?region=apac", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	require.Equal(t, "b", views[0].Id)
}

// Scenario: two back-to-back PUTs with the same message id. The first
// triggers and answers 201; the second must not re-trigger anything and
// answers 200 with the recorded view.
func TestIdempotentMessageDelivery(t *testing.T) {
	ts, m := newTestServer(t)

	_, err := m.CreateProcessWithId("req-7", "approval")
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/approval/req-7/submitted/m1", map[string]interface{}{"attempt": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	waitForState(t, m, "req-7", "review")

	pi, _ := m.GetInstance("req-7")
	historyBefore := len(pi.History().Entries)

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/approval/req-7/submitted/m1", map[string]interface{}{"attempt": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view InstanceView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, "req-7", view.Id)

	// No state change from the duplicate: the start event did not re-fire.
	require.Equal(t, historyBefore, len(pi.History().Entries))

	// A different message id is a new delivery; here it hits AlreadyStarted
	// and surfaces as an execution error rather than a replay.
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/approval/req-7/submitted/m2", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCollaborateEndpoint(t *testing.T) {
	ts, m := newTestServer(t)
	require.NoError(t, m.AddBpmnXML("shop", "shop.bpmn", []byte(collabXML)))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/bpmnCollaborate", map[string]interface{}{
		"processDescriptors": []map[string]interface{}{
			{"name": "buyer", "id": "buy-1"},
			{"name": "seller", "id": "sell-1", "startEventName": "sellerStart"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var views []InstanceView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 2)
	waitForState(t, m, "sell-1", "orderIncoming")
}

const collabXML = `<?xml version="1.0"?>
<definitions id="defs" name="shop" xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <collaboration id="collab">
    <participant id="partBuyer" name="buyer" processRef="buyerProc"/>
    <participant id="partSeller" name="seller" processRef="sellerProc"/>
    <messageFlow id="mf1" sourceRef="partBuyer" targetRef="catchOrder"/>
  </collaboration>
  <process id="buyerProc" name="buyer" isExecutable="true">
    <startEvent id="bs1" name="buyerStart"><outgoing>bf1</outgoing></startEvent>
    <task id="bt1" name="placeOrder"><incoming>bf1</incoming><outgoing>bf2</outgoing></task>
    <endEvent id="be1" name="buyerEnd"><incoming>bf2</incoming></endEvent>
    <sequenceFlow id="bf1" sourceRef="bs1" targetRef="bt1"/>
    <sequenceFlow id="bf2" sourceRef="bt1" targetRef="be1"/>
  </process>
  <process id="sellerProc" name="seller" isExecutable="true">
    <startEvent id="ss1" name="sellerStart"><outgoing>sf1</outgoing></startEvent>
    <intermediateCatchEvent id="catchOrder" name="orderIncoming"><incoming>sf1</incoming><outgoing>sf2</outgoing></intermediateCatchEvent>
    <endEvent id="se1" name="sellerEnd"><incoming>sf2</incoming></endEvent>
    <sequenceFlow id="sf1" sourceRef="ss1" targetRef="catchOrder"/>
    <sequenceFlow id="sf2" sourceRef="catchOrder" targetRef="se1"/>
  </process>
</definitions>`

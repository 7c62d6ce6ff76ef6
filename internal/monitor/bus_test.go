package monitor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestBus_EmitFansOutToAllSinks(t *testing.T) {
	bus := NewBus("inv-1", zaptest.NewLogger(t))
	a := NewMemorySink()
	b := NewMemorySink()
	bus.AddSink(a)
	bus.AddSink(b)

	bus.Emit(EventSiteStarted, map[string]any{"url": "https://lure.example"})
	bus.Emit(EventStateChanged, map[string]any{"new_state": "FIND_REGISTER"})

	require.Equal(t, 2, a.Count())
	require.Equal(t, 2, b.Count())
	ev := a.Events()[0]
	assert.Equal(t, EventSiteStarted, ev.Type)
	assert.Equal(t, "inv-1", ev.InvestigationID)
	assert.False(t, ev.Timestamp.IsZero())

	snap := bus.GetSnapshot()
	assert.Equal(t, "https://lure.example", snap.URL)
	assert.Equal(t, "FIND_REGISTER", snap.State)
}

func TestBus_BrokenSinkDoesNotBlockOthers(t *testing.T) {
	bus := NewBus("inv-1", zaptest.NewLogger(t))
	bus.AddSink(failingSink{})
	mem := NewMemorySink()
	bus.AddSink(mem)

	bus.Emit(EventLog, map[string]any{"msg": "hello"})
	assert.Equal(t, 1, mem.Count())
}

type failingSink struct{}

func (failingSink) HandleEvent(Event) error { return assert.AnError }

func TestBus_GuidanceRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus("inv-1", zaptest.NewLogger(t))
	mem := NewMemorySink()
	bus.AddSink(mem)

	go func() {
		// Wait until the request is visible, then answer it.
		for {
			if _, waiting := bus.AwaitingGuidance(); waiting {
				break
			}
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, bus.ProvideGuidance(GuidanceCommand{Action: GuidanceClick, Value: "#signup"}))
	}()

	cmd, err := bus.RequestGuidance(context.Background(), GuidanceRequest{
		SiteURL: "https://lure.example", State: "FIND_REGISTER", ActionsTaken: 8, Threshold: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, GuidanceClick, cmd.Action)
	assert.Equal(t, "#signup", cmd.Value)

	_, waiting := bus.AwaitingGuidance()
	assert.False(t, waiting, "pending request cleared after response")

	types := make([]EventType, 0, mem.Count())
	for _, ev := range mem.Events() {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventGuidanceNeeded)
	assert.Contains(t, types, EventGuidanceReceived)
}

func TestBus_GuidanceTimesOutWithContext(t *testing.T) {
	bus := NewBus("inv-1", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bus.RequestGuidance(ctx, GuidanceRequest{State: "FILL_REGISTER"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, waiting := bus.AwaitingGuidance()
	assert.False(t, waiting)
}

func TestBus_StaleGuidanceDrainedBeforeNewRequest(t *testing.T) {
	bus := NewBus("inv-1", zaptest.NewLogger(t))
	require.NoError(t, bus.ProvideGuidance(GuidanceCommand{Action: GuidanceSkip, Reason: "stale"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := bus.RequestGuidance(ctx, GuidanceRequest{State: "FIND_REGISTER"})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "stale response must not satisfy a new request")
}

func TestBus_InterjectLatestWins(t *testing.T) {
	bus := NewBus("inv-1", zaptest.NewLogger(t))

	_, found := bus.CheckInterject()
	assert.False(t, found)

	require.NoError(t, bus.Interject(GuidanceCommand{Action: GuidanceGoto, Value: "https://a.example"}))
	require.NoError(t, bus.Interject(GuidanceCommand{Action: GuidanceGoto, Value: "https://b.example"}))

	cmd, found := bus.CheckInterject()
	require.True(t, found)
	assert.Equal(t, "https://b.example", cmd.Value)

	_, found = bus.CheckInterject()
	assert.False(t, found, "queue drained")
}

func TestGuidanceCommand_Validate(t *testing.T) {
	assert.NoError(t, GuidanceCommand{Action: GuidanceSkip}.Validate())
	assert.NoError(t, GuidanceCommand{Action: GuidanceClick, Value: "#x"}.Validate())
	assert.Error(t, GuidanceCommand{Action: GuidanceClick}.Validate())
	assert.Error(t, GuidanceCommand{Action: GuidanceType}.Validate())
	assert.Error(t, GuidanceCommand{Action: "dance"}.Validate())
}

func TestJSONLSink_WritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)
	require.NoError(t, sink.HandleEvent(Event{Type: EventWalletFound, Timestamp: time.Now().UTC()}))
	require.NoError(t, sink.HandleEvent(Event{Type: EventSiteCompleted, Timestamp: time.Now().UTC()}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"wallet_found"`)
	assert.Contains(t, lines[1], `"site_completed"`)
}

func TestServer_SnapshotAndGuidance(t *testing.T) {
	srv := NewServer(zaptest.NewLogger(t))
	bus := NewBus("inv-1", zaptest.NewLogger(t))
	srv.Register("inv-1", bus)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/investigations/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/investigations/inv-1")
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, "inv-1", snap.InvestigationID)
	assert.False(t, snap.AwaitingHuman)

	// Not waiting yet: guidance is a conflict.
	resp, err = http.Post(ts.URL+"/investigations/inv-1/guidance", "application/json",
		strings.NewReader(`{"action":"skip"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	done := make(chan GuidanceCommand, 1)
	go func() {
		cmd, gerr := bus.RequestGuidance(context.Background(), GuidanceRequest{State: "FIND_REGISTER"})
		require.NoError(t, gerr)
		done <- cmd
	}()
	require.Eventually(t, func() bool {
		_, waiting := bus.AwaitingGuidance()
		return waiting
	}, time.Second, 5*time.Millisecond)

	resp, err = http.Post(ts.URL+"/investigations/inv-1/guidance", "application/json",
		strings.NewReader(`{"action":"click","value":"#register"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case cmd := <-done:
		assert.Equal(t, GuidanceClick, cmd.Action)
		assert.Equal(t, "#register", cmd.Value)
	case <-time.After(time.Second):
		t.Fatal("session never received guidance")
	}

	// Invalid body and invalid action are both rejected.
	resp, err = http.Post(ts.URL+"/investigations/inv-1/interject", "application/json",
		strings.NewReader(`{"action":"dance"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/investigations/inv-1/interject", "application/json",
		strings.NewReader(`{"action":"goto","value":"https://b.example"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	cmd, found := bus.CheckInterject()
	require.True(t, found)
	assert.Equal(t, GuidanceGoto, cmd.Action)
}

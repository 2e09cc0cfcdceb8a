package streamer

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
	"github.com/matchday/livescore/internal/scoring"
)

func testSnapshot(_ context.Context, matchID string) (matchsync.Snapshot, error) {
	if matchID != "m1" {
		return matchsync.Snapshot{}, match.ErrMatchNotFound
	}
	return matchsync.Snapshot{
		Match: match.Match{
			ID:       "m1",
			Status:   match.StatusLive,
			HomeTeam: match.TeamInfo{Name: "Harlequins", TriCode: "HAR"},
			AwayTeam: match.TeamInfo{Name: "Saracens", TriCode: "SAR"},
		},
		Timer:   matchclock.Timer{IsRunning: true, CurrentHalf: matchclock.SecondHalf},
		Elapsed: 2700,
		Minute:  45,
		Tally:   scoring.Tally{HomeScore: 10, AwayScore: 3, YellowCardsAway: 1},
		Events: []match.Event{
			{ID: "e2", MatchID: "m1", Minute: 30, Kind: match.KindYellowCard, Team: match.Away},
			{ID: "e1", MatchID: "m1", Minute: 12, Kind: match.KindTry, Team: match.Home, Description: "Marler over from the lineout"},
		},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSource, *Hub) {
	t.Helper()
	source := newFakeSource()
	hub := NewHub(source, testSnapshot)
	handler := NewHandler(hub, testSnapshot, []string{"http://localhost:5173"})
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return srv, source, hub
}

// readSSE returns the next event name and data payload, skipping comments.
func readSSE(t *testing.T, r *bufio.Reader) (string, []byte) {
	t.Helper()
	var event string
	var data []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestEvents_SnapshotThenNotices(t *testing.T) {
	srv, source, hub := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?match_id=m1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	event, data := readSSE(t, reader)
	if event != "snapshot" {
		t.Fatalf("expected snapshot first, got %q", event)
	}
	var first Message
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if first.Snapshot == nil || first.Snapshot.Tally.HomeScore != 10 {
		t.Fatalf("unexpected snapshot: %s", data)
	}

	msg := notice("m1", 15)
	msg.Seq = 9
	if !source.emit("m1", msg) {
		t.Fatal("stream not subscribed upstream")
	}
	event, data = readSSE(t, reader)
	if event != "notice" {
		t.Fatalf("expected notice, got %q", event)
	}
	var relayed Message
	_ = json.Unmarshal(data, &relayed)
	if relayed.Seq != 9 || relayed.Notice == nil || relayed.Notice.Tally.HomeScore != 15 {
		t.Fatalf("unexpected notice: %s", data)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Viewers("m1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEvents_BadRequests(t *testing.T) {
	srv, _, hub := newTestServer(t)

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/events?match_id=unknown")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if hub.Viewers("unknown") != 0 {
		t.Fatal("failed stream left a viewer behind")
	}
}

func TestWebSocket_SnapshotThenNotices(t *testing.T) {
	srv, source, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?match_id=m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://127.0.0.1:5173"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Snapshot.Match.ID != "m1" {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	source.emit("m1", notice("m1", 17))
	var next Message
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read notice: %v", err)
	}
	if next.Type != "notice" || next.Notice.Tally.HomeScore != 17 {
		t.Fatalf("unexpected frame: %+v", next)
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?match_id=m1"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestHUD(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/hud/m1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body strings.Builder
	if _, err := bufio.NewReader(resp.Body).WriteTo(&body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{"Harlequins", "45:00", "2nd half", "Marler over from the lineout", "yellow card by away team"} {
		if !strings.Contains(body.String(), want) {
			t.Errorf("HUD missing %q", want)
		}
	}

	resp, err = http.Get(srv.URL + "/hud/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHUDView_TrimsTimeline(t *testing.T) {
	snap, _ := testSnapshot(context.Background(), "m1")
	for i := 0; i < 20; i++ {
		snap.Events = append(snap.Events, match.Event{Minute: i, Kind: match.KindPenalty, Team: match.Home})
	}
	view := HUDView(snap)
	if len(view.Timeline) != hudTimelineLen {
		t.Fatalf("expected %d entries, got %d", hudTimelineLen, len(view.Timeline))
	}
	if view.Away.Yellow != 1 || view.Home.Code != "HAR" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

package forward

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

// recorder is an httptest handler that remembers the requests it gets.
type recorder struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]any
	status int
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	rec.paths = append(rec.paths, r.URL.Path)
	rec.bodies = append(rec.bodies, body)
	if rec.status != 0 {
		w.WriteHeader(rec.status)
	}
	w.Write([]byte(`{"ok": true}`))
}

// TestCollaboratorNotify checks that each kind of event goes to its own
// URL with the expected body.
func TestCollaboratorNotify(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	c := NewCollaborator(server.URL+"/cash", server.URL+"/draft", time.Second, nil)
	ctx := context.Background()

	if err := c.Notify(ctx, Event{Kind: KindCash, Name: "Budi", Amount: 5}); err != nil {
		t.Fatal(err)
	}
	if err := c.Notify(ctx, Event{Kind: KindDraft, Name: "Siti", Amount: 2.5, Status: "pending"}); err != nil {
		t.Fatal(err)
	}

	wantPaths := []string{"/cash", "/draft"}
	if !reflect.DeepEqual(wantPaths, rec.paths) {
		t.Errorf("want %v got %v", wantPaths, rec.paths)
	}

	wantBodies := []map[string]any{
		{"name": "Budi", "amount": 5.0},
		{"name": "Siti", "amount": 2.5, "status": "pending"},
	}
	if !reflect.DeepEqual(wantBodies, rec.bodies) {
		t.Errorf("want %v got %v", wantBodies, rec.bodies)
	}
}

// TestCollaboratorDisabled checks that an empty URL sends nothing.
func TestCollaboratorDisabled(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	c := NewCollaborator("", server.URL+"/draft", time.Second, nil)

	if err := c.Notify(context.Background(), Event{Kind: KindCash, Name: "Budi", Amount: 5}); err != nil {
		t.Error(err)
	}
	if len(rec.paths) != 0 {
		t.Errorf("want no requests got %v", rec.paths)
	}
}

// TestCollaboratorFailures checks error statuses and timeouts.
func TestCollaboratorFailures(t *testing.T) {
	rec := &recorder{status: http.StatusBadGateway}
	server := httptest.NewServer(rec)
	defer server.Close()

	c := NewCollaborator(server.URL, "", time.Second, nil)
	if err := c.Notify(context.Background(), Event{Kind: KindCash, Name: "Budi"}); err == nil {
		t.Error("502: want an error")
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c = NewCollaborator(slow.URL, "", 50*time.Millisecond, nil)
	start := time.Now()
	if err := c.Notify(context.Background(), Event{Kind: KindCash, Name: "Budi"}); err == nil {
		t.Error("slow server: want an error")
	}
	if time.Since(start) > time.Second {
		t.Error("the timeout was not applied")
	}
}

type fakeNotifier struct {
	events []Event
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, event Event) error {
	f.events = append(f.events, event)
	return f.err
}

// TestMulti checks that every notifier is called and errors are collected.
func TestMulti(t *testing.T) {
	failure := errors.New("down")
	a := &fakeNotifier{}
	b := &fakeNotifier{err: failure}
	c := &fakeNotifier{}

	m := Multi{a, b, nil, c}
	err := m.Notify(context.Background(), Event{Kind: KindCash, Name: "Budi"})

	if !errors.Is(err, failure) {
		t.Errorf("want %v got %v", failure, err)
	}
	for i, n := range []*fakeNotifier{a, b, c} {
		if len(n.events) != 1 {
			t.Errorf("notifier %d: want 1 event got %d", i, len(n.events))
		}
	}
}

// TestNewDiscordUnconfigured checks that no notifier is made without a webhook.
func TestNewDiscordUnconfigured(t *testing.T) {
	d, err := NewDiscord("", "", "Kas", 0)
	if err != nil {
		t.Error(err)
	}
	if d != nil {
		t.Error("want nil")
	}
}

// TestMessage checks the Discord message text.
func TestMessage(t *testing.T) {
	var testData = []struct {
		event Event
		want  string
	}{
		{Event{Kind: KindCash, Name: "Budi", Amount: 5}, "Kas: Budi paid 5"},
		{Event{Kind: KindDraft, Name: "Siti", Amount: 2.5, Status: "pending"}, "Draft: Siti, 2.5 (pending)"},
	}

	for _, td := range testData {
		got := message(td.event)
		if td.want != got {
			t.Errorf("want %s got %s", td.want, got)
		}
	}
}

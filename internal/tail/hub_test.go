package tail

import (
	"testing"
	"time"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubSharesTailPerKey(t *testing.T) {
	t.Parallel()
	m := journal.NewMemory()
	hub := NewHub(m.Opener(), loc, HubOptions{PollInterval: testPoll, Buffer: 16})
	defer hub.Close()

	a, err := hub.Subscribe("web-server", "nginx.service")
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	b, err := hub.Subscribe("web-server", "nginx.service")
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	c, err := hub.Subscribe("database-server", "mysql.service")
	if err != nil {
		t.Fatalf("Subscribe c: %v", err)
	}
	if hub.Streams() != 2 {
		t.Fatalf("Streams = %d, want 2", hub.Streams())
	}

	m.AppendEntry(model.Entry{Hostname: "web-server", Unit: "nginx.service", TimestampUTC: nowUsec(), Message: "GET / 200"})

	for _, sub := range []*Subscription{a, b} {
		if ev := receive(t, sub); ev.Err != nil || ev.Entry.Message != "GET / 200" {
			t.Fatalf("event = %+v", ev)
		}
	}
	select {
	case ev := <-c.C:
		t.Fatalf("unrelated subscriber received %+v", ev)
	case <-time.After(5 * testPoll):
	}

	a.Close()
	b.Close()
	if hub.Streams() != 1 {
		t.Fatalf("Streams after unsubscribe = %d, want 1", hub.Streams())
	}
	if _, ok := <-a.C; ok {
		t.Fatal("closed subscription still open")
	}
	c.Close()
	c.Close()
	if hub.Streams() != 0 {
		t.Fatalf("Streams = %d, want 0", hub.Streams())
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()
	m := journal.NewMemory()
	hub := NewHub(m.Opener(), loc, HubOptions{PollInterval: testPoll})

	sub, err := hub.Subscribe("web-server", "nginx.service")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	hub.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("subscription not closed by hub Close")
	}
	sub.Close()
	if _, err := hub.Subscribe("web-server", "nginx.service"); err == nil {
		t.Fatal("Subscribe after Close succeeded")
	}
}

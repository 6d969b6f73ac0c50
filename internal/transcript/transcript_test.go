package transcript

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/persona"
)

func TestAppend(t *testing.T) {
	bus := event.NewBus()
	var appended []event.MessageAppendedEvent
	bus.Subscribe("message.appended", func(e event.Event) {
		appended = append(appended, e.(event.MessageAppendedEvent))
	})

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(bus, func() time.Time { return fixed })

	u := tr.AppendUser("Should I move?")
	a := tr.AppendAgent(persona.BaNguyen, persona.NanaRuth, "Only if the rent is cheaper.")
	tr.AppendSystem("gavel")

	if u.ID == "" || u.ID == a.ID {
		t.Errorf("ids not unique: %q %q", u.ID, a.ID)
	}
	if !a.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", a.Timestamp, fixed)
	}

	msgs := tr.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[1].Kind != KindAgent || msgs[1].ReplyingTo != persona.NanaRuth {
		t.Errorf("agent message = %+v", msgs[1])
	}
	if len(appended) != 3 || appended[1].Persona != "ba-nguyen" || appended[1].ReplyingTo != "nana-ruth" {
		t.Errorf("events = %+v", appended)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	tr := New(nil, nil)
	tr.AppendUser("hi")
	msgs := tr.Messages()
	msgs[0].Content = "changed"
	if tr.Messages()[0].Content != "hi" {
		t.Error("Messages() exposed internal storage")
	}
}

func TestRecentAndSince(t *testing.T) {
	tr := New(nil, nil)
	for i := range 20 {
		tr.AppendUser(fmt.Sprint(i))
	}

	recent := tr.Recent(ContextWindow)
	if len(recent) != ContextWindow || recent[0].Content != "5" {
		t.Errorf("Recent() first = %q, len %d", recent[0].Content, len(recent))
	}
	if got := tr.Recent(0); got != nil {
		t.Errorf("Recent(0) = %v", got)
	}
	if got := tr.Since(18); len(got) != 2 || got[0].Content != "18" {
		t.Errorf("Since(18) = %v", got)
	}
	if got := tr.Since(25); got != nil {
		t.Errorf("Since(25) = %v", got)
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len after Reset = %d", tr.Len())
	}
}

func TestExchangesAndFormat(t *testing.T) {
	tr := New(nil, nil)
	tr.AppendUser("Is cereal soup?")
	tr.AppendAgent(persona.NanaRuth, "", "No.")
	tr.AppendAgent(persona.BibiAmara, persona.NanaRuth, "Ruth, you are wrong.")
	tr.AppendSystem("🔨")

	ex := Exchanges(tr.Messages())
	if len(ex) != 1 || ex[0].Persona != persona.BibiAmara {
		t.Fatalf("Exchanges() = %+v", ex)
	}

	want := "User: Is cereal soup?\n\n" +
		"Nana Ruth: No.\n\n" +
		"Bibi Amara (replying to Nana Ruth): Ruth, you are wrong."
	if got := tr.FormatRecent(); got != want {
		t.Errorf("FormatRecent() =\n%s\nwant\n%s", got, want)
	}
}

func TestConcurrentAppend(t *testing.T) {
	tr := New(nil, nil)
	var wg sync.WaitGroup
	for _, id := range persona.IDs() {
		wg.Add(1)
		go func(id persona.ID) {
			defer wg.Done()
			for range 50 {
				tr.AppendAgent(id, "", "x")
			}
		}(id)
	}
	wg.Wait()
	if tr.Len() != 250 {
		t.Errorf("Len = %d, want 250", tr.Len())
	}
}

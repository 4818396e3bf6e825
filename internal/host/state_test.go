package host

import (
	"sync"
	"testing"

	"github.com/goodtune/shortmeter/internal/site"
)

func TestState_Location(t *testing.T) {
	s := NewState(true)

	loc := site.Location{Hostname: "www.tiktok.com", Pathname: "/", Href: "https://www.tiktok.com/"}
	s.SetLocation(loc)
	if got := s.CurrentLocation(); got != loc {
		t.Errorf("CurrentLocation = %+v, want %+v", got, loc)
	}
}

func TestState_ForegroundChanges(t *testing.T) {
	s := NewState(true)

	// Unchanged visibility is not announced
	s.SetForeground(true)
	select {
	case v := <-s.ForegroundChanges():
		t.Fatalf("unexpected change %v", v)
	default:
	}

	s.SetForeground(false)
	if s.IsForeground() {
		t.Error("IsForeground = true after hiding")
	}
	if v := <-s.ForegroundChanges(); v {
		t.Error("expected a hidden notification")
	}

	// Unread changes collapse to the latest value
	s.SetForeground(true)
	s.SetForeground(false)
	s.SetForeground(true)
	if v := <-s.ForegroundChanges(); !v {
		t.Error("expected the latest value to be visible")
	}
	select {
	case v := <-s.ForegroundChanges():
		t.Fatalf("stale change %v left in channel", v)
	default:
	}
}

func TestState_ConcurrentWriters(t *testing.T) {
	s := NewState(false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetForeground((i+j)%2 == 0)
				s.SetLocation(site.Location{Hostname: "example.com"})
				_ = s.IsForeground()
			}
		}(i)
	}
	wg.Wait()

	if s.CurrentLocation().Hostname != "example.com" {
		t.Error("location lost")
	}
}

package store

import (
	"sync"
	"testing"
	"time"
)

func TestNewMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if got := len(s.GetAll()); got != 0 {
		t.Errorf("GetAll() = %d items, want 0", got)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
}

func TestMemoryStore_UpdateAndGet(t *testing.T) {
	s := NewMemoryStore()
	checked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Update(Snapshot{
		Name:           "api",
		URL:            "https://example.com/health",
		Status:         "up",
		StatusCode:     200,
		ResponseTimeMs: 42,
		CheckedAt:      checked,
		ShouldRefresh:  true,
		Labels:         map[string]string{"env": "prod"},
	})

	got, ok := s.Get("api")
	if !ok {
		t.Fatal("Get(api) ok = false")
	}
	if got.Status != "up" || got.StatusCode != 200 || got.ResponseTimeMs != 42 {
		t.Errorf("Get(api) = %+v", got)
	}
	if !got.CheckedAt.Equal(checked) {
		t.Errorf("CheckedAt = %v, want %v", got.CheckedAt, checked)
	}
}

func TestMemoryStore_UpdateOverwrites(t *testing.T) {
	s := NewMemoryStore()

	s.Update(Snapshot{Name: "api", Status: "up", Refreshes: 1})
	s.Update(Snapshot{Name: "api", Status: "down", Refreshes: 2})

	all := s.GetAll()
	if len(all) != 1 {
		t.Fatalf("GetAll() = %d items, want 1", len(all))
	}
	if all[0].Status != "down" || all[0].Refreshes != 2 {
		t.Errorf("GetAll()[0] = %+v, want latest update", all[0])
	}
}

func TestMemoryStore_GetAllSortedByName(t *testing.T) {
	s := NewMemoryStore()

	s.Update(Snapshot{Name: "charlie"})
	s.Update(Snapshot{Name: "alpha"})
	s.Update(Snapshot{Name: "bravo"})

	all := s.GetAll()
	want := []string{"alpha", "bravo", "charlie"}
	if len(all) != len(want) {
		t.Fatalf("GetAll() = %d items, want %d", len(all), len(want))
	}
	for i, name := range want {
		if all[i].Name != name {
			t.Errorf("GetAll()[%d].Name = %q, want %q", i, all[i].Name, name)
		}
	}
}

func TestMemoryStore_LabelsCopied(t *testing.T) {
	s := NewMemoryStore()
	labels := map[string]string{"env": "prod"}

	s.Update(Snapshot{Name: "api", Labels: labels})
	labels["env"] = "staging"

	got, _ := s.Get("api")
	if got.Labels["env"] != "prod" {
		t.Errorf("stored label = %q, want %q", got.Labels["env"], "prod")
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	s := NewMemoryStore()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.Update(Snapshot{Name: "api", IsRefreshing: true})

	select {
	case got := <-ch:
		if got.Name != "api" || !got.IsRefreshing {
			t.Errorf("received %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive update")
	}
}

func TestMemoryStore_MultipleSubscribers(t *testing.T) {
	s := NewMemoryStore()
	subs := []<-chan Snapshot{s.Subscribe(), s.Subscribe(), s.Subscribe()}

	s.Update(Snapshot{Name: "api"})

	for i, ch := range subs {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive update", i)
		}
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	s := NewMemoryStore()
	ch := s.Subscribe()

	s.Unsubscribe(ch)
	s.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}

	// no panic sending to a removed subscriber
	s.Update(Snapshot{Name: "api"})
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3*subscriberBuffer; i++ {
			s.Update(Snapshot{Name: "api"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update() blocked on a full subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update(Snapshot{Name: "api", Refreshes: uint64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.GetAll()
				_, _ = s.Get("api")
			}
		}()
		go func() {
			defer wg.Done()
			ch := s.Subscribe()
			time.Sleep(10 * time.Millisecond)
			s.Unsubscribe(ch)
		}()
	}
	wg.Wait()
}

package kv

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func newTestMemoryStore(namespace string, now *time.Time) *MemoryStore {
	s := NewMemoryStore(namespace)
	s.now = func() time.Time { return *now }
	return s
}

func TestMemoryStore_PutGet(t *testing.T) {
	now := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	store := newTestMemoryStore("", &now)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}

	if err := store.Put(ctx, "greeting", "hi there", PutOptions{ExpirationTTL: time.Hour}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	val, ok, err := store.Get(ctx, "greeting")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if val != "hi there" {
		t.Errorf("Get() = %q, want %q", val, "hi there")
	}

	// overwrite replaces the value
	if err := store.Put(ctx, "greeting", "", PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	val, ok, _ = store.Get(ctx, "greeting")
	if !ok || val != "" {
		t.Errorf("Get() after overwrite = %q, %v; want empty string present", val, ok)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		advance time.Duration
		wantOK  bool
	}{
		{
			name:    "before expiry",
			ttl:     3600 * time.Second,
			advance: 3599 * time.Second,
			wantOK:  true,
		},
		{
			name:    "at expiry",
			ttl:     3600 * time.Second,
			advance: 3600 * time.Second,
			wantOK:  false,
		},
		{
			name:    "no ttl never expires",
			ttl:     0,
			advance: 1000 * time.Hour,
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
			store := newTestMemoryStore("", &now)
			ctx := context.Background()

			if err := store.Put(ctx, "k", "v", PutOptions{ExpirationTTL: tt.ttl}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			now = now.Add(tt.advance)

			_, ok, err := store.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("Get() ok = %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK && store.Len() != 0 {
				t.Errorf("expired entry should be dropped on read, Len() = %d", store.Len())
			}
		})
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	now := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	store := newTestMemoryStore("", &now)
	ctx := context.Background()

	_ = store.Put(ctx, "short", "1", PutOptions{ExpirationTTL: time.Minute})
	_ = store.Put(ctx, "long", "2", PutOptions{ExpirationTTL: time.Hour})
	_ = store.Put(ctx, "forever", "3", PutOptions{})

	now = now.Add(2 * time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}

	keys := store.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "forever" || keys[1] != "long" {
		t.Errorf("Keys() = %v, want [forever long]", keys)
	}
}

func TestMemoryStore_Namespace(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryStore("a")
	_ = a.Put(ctx, "the-key", "value", PutOptions{})

	if keys := a.Keys(); len(keys) != 1 || keys[0] != "the-key" {
		t.Errorf("Keys() = %v, want [the-key]", keys)
	}
	if _, ok := a.entries["a:the-key"]; !ok {
		t.Errorf("namespace prefix not applied, entries = %v", a.entries)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, "k", "v", PutOptions{}); err == nil {
		t.Error("Put() with canceled context should fail")
	}
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Error("Get() with canceled context should fail")
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("Ping() with canceled context should fail")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Put(ctx, "shared", "v", PutOptions{ExpirationTTL: time.Hour})
			_, _, _ = store.Get(ctx, "shared")
		}()
	}
	wg.Wait()

	if val, ok, _ := store.Get(ctx, "shared"); !ok || val != "v" {
		t.Errorf("Get() = %q, %v; want v, true", val, ok)
	}
}

func TestMemoryStore_Janitor(t *testing.T) {
	store := NewMemoryStore("")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = store.Put(context.Background(), "k", "v", PutOptions{ExpirationTTL: time.Millisecond})
	store.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not sweep the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

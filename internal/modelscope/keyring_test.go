package modelscope

import (
	"sync"
	"testing"
)

func TestNewKeyringRejectsEmpty(t *testing.T) {
	if _, err := NewKeyring(nil); err == nil {
		t.Fatalf("expected error for empty key list")
	}
	if _, err := NewKeyring([]string{}); err == nil {
		t.Fatalf("expected error for empty key list")
	}
}

func TestKeyringRotatesRoundRobin(t *testing.T) {
	keyring, err := NewKeyring([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	want := []string{"a", "b", "c", "a", "b", "c", "a"}
	for i, w := range want {
		if got := keyring.Next(); got != w {
			t.Fatalf("Next() call %d = %q, want %q", i, got, w)
		}
	}
}

func TestKeyringSingleKey(t *testing.T) {
	keyring, err := NewKeyring([]string{"only"})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	for i := 0; i < 5; i++ {
		if got := keyring.Next(); got != "only" {
			t.Fatalf("Next() = %q, want %q", got, "only")
		}
	}
}

func TestKeyringConcurrentFairness(t *testing.T) {
	keyring, err := NewKeyring([]string{"a", "b"})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	const workers = 8
	const perWorker = 100
	var wg sync.WaitGroup
	counts := make([]map[string]int, workers)
	for w := 0; w < workers; w++ {
		counts[w] = make(map[string]int)
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				counts[w][keyring.Next()]++
			}
		}(w)
	}
	wg.Wait()

	total := make(map[string]int)
	for _, c := range counts {
		for k, n := range c {
			total[k] += n
		}
	}
	if total["a"] != workers*perWorker/2 || total["b"] != workers*perWorker/2 {
		t.Fatalf("uneven rotation: %v", total)
	}
}

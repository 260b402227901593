package streams

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGroupByPreservesRelativeOrderWithinGroup(t *testing.T) {
	records := []Record{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("a"), Value: []byte("3")},
	}
	groups := GroupBy(records, func(r Record) string { return string(r.Key) })

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	a := groups["a"]
	if len(a) != 2 || string(a[0].Value) != "1" || string(a[1].Value) != "3" {
		t.Fatalf("expected group a to preserve arrival order, got %+v", a)
	}
}

func TestGroupByEmptyInput(t *testing.T) {
	groups := GroupBy(nil, func(r Record) string { return "" })
	if len(groups) != 0 {
		t.Fatalf("expected no groups for empty input, got %+v", groups)
	}
}

func TestRunParallelKeysRunsEveryKey(t *testing.T) {
	var count int64
	keys := []string{"a", "b", "c", "d"}

	err := RunParallelKeys(keys, func(key string) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("run parallel keys: %v", err)
	}
	if count != int64(len(keys)) {
		t.Fatalf("expected all %d keys processed, got %d", len(keys), count)
	}
}

func TestRunParallelKeysReturnsFirstError(t *testing.T) {
	keys := []string{"a", "b", "c"}
	boom := errors.New("boom")

	err := RunParallelKeys(keys, func(key string) error {
		if key == "b" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom propagated, got %v", err)
	}
}

func TestRunParallelKeysDoesNotStopOtherWorkers(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	keys := []string{"a", "b", "c"}

	_ = RunParallelKeys(keys, func(key string) error {
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()
		if key == "a" {
			return errors.New("fail a")
		}
		return nil
	})

	sort.Strings(seen)
	if len(seen) != 3 {
		t.Fatalf("expected all keys attempted despite one failing, got %v", seen)
	}
}

func TestRunParallelKeysEmptyKeysNoError(t *testing.T) {
	if err := RunParallelKeys(nil, func(key string) error { return nil }); err != nil {
		t.Fatalf("expected no error for empty key set, got %v", err)
	}
}

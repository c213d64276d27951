package utils

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("c1")
			value := counter
			value++
			counter = value
			unlock()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("expected 100, got %d", counter)
	}
	if n := locks.Len(); n != 0 {
		t.Fatalf("expected no entries after all unlocks, got %d", n)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	unlockB()
	unlockA()
}

func TestKeyedMutexDropsReleasedKeys(t *testing.T) {
	locks := NewKeyedMutex()
	for i := 0; i < 1000; i++ {
		unlock := locks.Lock(fmt.Sprintf("c%d", i))
		unlock()
	}
	if n := locks.Len(); n != 0 {
		t.Fatalf("expected released keys to be dropped, got %d entries", n)
	}

	unlock := locks.Lock("held")
	if n := locks.Len(); n != 1 {
		t.Fatalf("expected one held entry, got %d", n)
	}
	acquired := make(chan func())
	go func() {
		acquired <- locks.Lock("held")
	}()
	select {
	case <-acquired:
		t.Fatalf("second holder got the lock while it was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	second := <-acquired
	if n := locks.Len(); n != 1 {
		t.Fatalf("waiter must keep the entry alive, got %d entries", n)
	}
	second()
	if n := locks.Len(); n != 0 {
		t.Fatalf("expected entry dropped after last unlock, got %d", n)
	}
}

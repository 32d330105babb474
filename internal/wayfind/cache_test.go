package wayfind

import (
	"reflect"
	"sync"
	"testing"
)

func TestLoadCacheTransitions(t *testing.T) {
	c := NewLoadCache()
	key := levelKey("L1")

	if c.State(key) != NotRequested {
		t.Fatalf("initial state %v", c.State(key))
	}
	if !c.Begin(key) {
		t.Fatal("first Begin should win")
	}
	if c.Begin(key) {
		t.Fatal("Begin while pending should lose")
	}
	c.Fail(key)
	if c.LevelState("L1") != Failed {
		t.Fatalf("state %v, want failed", c.LevelState("L1"))
	}
	if !c.Begin(key) {
		t.Fatal("Begin after failure should retry")
	}
	c.Complete(key)
	if c.Begin(key) {
		t.Fatal("Begin after load should lose")
	}
	if s := c.LevelState("L1").String(); s != "loaded" {
		t.Fatalf("String()=%q", s)
	}
}

func TestLoadCacheBeginOnce(t *testing.T) {
	c := NewLoadCache()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Begin(poiKey) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins=%d, want 1", wins)
	}
}

func TestLoadCacheIDs(t *testing.T) {
	c := NewLoadCache()
	for _, id := range []string{"L3", "L1", "L2"} {
		c.Begin(levelKey(id))
		c.Complete(levelKey(id))
	}
	c.Begin(levelKey("L4"))
	c.Begin(imageKey("shop"))
	c.Complete(imageKey("shop"))

	if got := c.LevelIDs(Loaded); !reflect.DeepEqual(got, []string{"L1", "L2", "L3"}) {
		t.Fatalf("loaded levels %v", got)
	}
	if got := c.LevelIDs(Pending); !reflect.DeepEqual(got, []string{"L4"}) {
		t.Fatalf("pending levels %v", got)
	}
	if got := c.ImageIDs(Loaded); !reflect.DeepEqual(got, []string{"shop"}) {
		t.Fatalf("images %v", got)
	}
	if c.ImageState("shop") != Loaded {
		t.Fatal("image state")
	}
}

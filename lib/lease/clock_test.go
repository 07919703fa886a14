package lease

import (
	"sync"
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock(t0)
	if !c.Now().Equal(t0) {
		t.Fatalf("Now() = %s", c.Now())
	}
	if got := c.Advance(time.Minute); !got.Equal(t0.Add(time.Minute)) {
		t.Errorf("Advance returned %s", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()
	if want := t0.Add(time.Minute + 100*time.Second); !c.Now().Equal(want) {
		t.Errorf("concurrent advances: Now() = %s, want %s", c.Now(), want)
	}

	c.Set(t0)
	if !c.Now().Equal(t0) {
		t.Errorf("Set did not move the clock")
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	if loc := (SystemClock{}).Now().Location(); loc != time.UTC {
		t.Errorf("SystemClock location = %s", loc)
	}
}

func TestCodeStrings(t *testing.T) {
	for c := AcquireAcquired; c <= AcquireConflict; c++ {
		got, err := ParseAcquireCode(c.String())
		if err != nil || got != c {
			t.Errorf("ParseAcquireCode(%q) = %s, %v", c.String(), got, err)
		}
	}
	for r := ReleaseReleased; r <= ReleaseNotOwner; r++ {
		got, err := ParseReleaseReason(r.String())
		if err != nil || got != r {
			t.Errorf("ParseReleaseReason(%q) = %s, %v", r.String(), got, err)
		}
	}
	if _, err := ParseAcquireCode("stolen"); err == nil {
		t.Errorf("unknown acquire code parsed")
	}
}

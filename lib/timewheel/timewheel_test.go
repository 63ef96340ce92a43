package timewheel

import (
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	ch := make(chan time.Time)
	beginTime := time.Now()
	Delay(time.Second, "", func() {
		ch <- time.Now()
	})
	execAt := <-ch
	delayDuration := execAt.Sub(beginTime)
	// usually 1.0 ~ 2.0 s
	if delayDuration < time.Second || delayDuration > 3*time.Second {
		t.Errorf("wrong execute time: %v", delayDuration)
	}
}

func TestCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	Delay(time.Second, "test-cancel", func() {
		fired <- struct{}{}
	})
	Cancel("test-cancel")
	select {
	case <-fired:
		t.Error("canceled job should not fire")
	case <-time.After(3 * time.Second):
	}
}

package client

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := newBreaker(3, time.Minute)

	b.fail()
	b.fail()
	if b.wait() != 0 {
		t.Fatal("breaker opened below the threshold")
	}

	b.fail()
	if b.wait() <= 0 {
		t.Fatal("breaker should be open after the third failure")
	}
}

func TestBreakerResetClearsHistory(t *testing.T) {
	b := newBreaker(2, time.Minute)
	b.fail()
	b.fail()
	if b.wait() == 0 {
		t.Fatal("breaker should be open")
	}

	b.reset()
	if b.wait() != 0 {
		t.Fatal("reset should close the breaker")
	}
	b.fail()
	if b.wait() != 0 {
		t.Fatal("one failure after reset should not open the breaker")
	}
}

func TestBreakerForgetsStaleFailures(t *testing.T) {
	b := newBreaker(2, 30*time.Millisecond)

	b.fail()
	time.Sleep(50 * time.Millisecond)
	b.fail()

	if b.wait() != 0 {
		t.Fatal("failures separated by more than a cooldown window should not accumulate")
	}
}

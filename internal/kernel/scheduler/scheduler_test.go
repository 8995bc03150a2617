package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunsRepeatedly(t *testing.T) {
	var count int64
	job := Job{
		Name:     "test",
		Interval: 10 * time.Millisecond,
		Run:      func(ctx context.Context) { atomic.AddInt64(&count, 1) },
	}
	s := New([]Job{job}, time.Second, nil)
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&count) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt64(&count) < 2 {
		t.Fatalf("expected job to run at least twice, ran %d times", count)
	}
}

func TestStopHaltsFurtherRuns(t *testing.T) {
	var count int64
	job := Job{
		Name:     "test",
		Interval: 5 * time.Millisecond,
		Run:      func(ctx context.Context) { atomic.AddInt64(&count, 1) },
	}
	s := New([]Job{job}, time.Second, nil)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt64(&count)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt64(&count) != after {
		t.Fatal("expected no further runs after Stop")
	}
}

func TestPanicInJobIsRecovered(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := Job{
		Name:     "panicky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) {
			select {
			case ran <- struct{}{}:
			default:
			}
			panic("boom")
		},
	}
	s := New([]Job{job}, time.Second, nil)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("expected job to run despite panicking")
	}
}

package history

import (
	"context"
	"sync"
	"testing"
	"time"
)

func bufPoint(target float64) Point {
	return Point{Time: time.Now(), DeviceID: "ac-1", State: "STANDBY", Season: "winter", UserTarget: target}
}

func TestBufferWriteAndDrain(t *testing.T) {
	b := NewBuffer(10)

	for i := 0; i < 3; i++ {
		if err := b.WritePoint(context.Background(), bufPoint(float64(20+i))); err != nil {
			t.Fatalf("WritePoint: %v", err)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}

	drained := b.Drain(2)
	if len(drained) != 2 {
		t.Fatalf("len(drained) = %d, want 2", len(drained))
	}
	if drained[0].UserTarget != 20 || drained[1].UserTarget != 21 {
		t.Errorf("drained targets = %v, %v, want oldest first (20, 21)", drained[0].UserTarget, drained[1].UserTarget)
	}
	if b.Len() != 1 {
		t.Errorf("Len after drain = %d, want 1", b.Len())
	}
}

func TestBufferDrainEmpty(t *testing.T) {
	b := NewBuffer(10)
	if got := b.Drain(5); got != nil {
		t.Errorf("Drain on empty = %v, want nil", got)
	}
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	b := NewBuffer(3)

	for i := 0; i < 5; i++ {
		b.WritePoint(context.Background(), bufPoint(float64(20+i)))
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}

	drained := b.Drain(3)
	want := []float64{22, 23, 24}
	for i, p := range drained {
		if p.UserTarget != want[i] {
			t.Errorf("drained[%d].UserTarget = %v, want %v", i, p.UserTarget, want[i])
		}
	}
}

func TestBufferRequeue(t *testing.T) {
	b := NewBuffer(10)
	b.WritePoint(context.Background(), bufPoint(20))
	b.WritePoint(context.Background(), bufPoint(21))

	batch := b.Drain(2)
	if b.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", b.Len())
	}

	b.WritePoint(context.Background(), bufPoint(22))
	b.Requeue(batch)

	drained := b.Drain(3)
	want := []float64{20, 21, 22}
	if len(drained) != 3 {
		t.Fatalf("len(drained) = %d, want 3", len(drained))
	}
	for i, p := range drained {
		if p.UserTarget != want[i] {
			t.Errorf("drained[%d].UserTarget = %v, want %v", i, p.UserTarget, want[i])
		}
	}
}

func TestBufferRequeueRespectsBound(t *testing.T) {
	b := NewBuffer(3)
	b.WritePoint(context.Background(), bufPoint(30))
	b.WritePoint(context.Background(), bufPoint(31))

	b.Requeue([]Point{bufPoint(20), bufPoint(21), bufPoint(22)})

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	drained := b.Drain(3)
	want := []float64{22, 30, 31}
	for i, p := range drained {
		if p.UserTarget != want[i] {
			t.Errorf("drained[%d].UserTarget = %v, want %v", i, p.UserTarget, want[i])
		}
	}
}

func TestBufferConcurrent(t *testing.T) {
	b := NewBuffer(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.WritePoint(context.Background(), bufPoint(float64(id*10+j)))
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = b.Len()
				b.Requeue(b.Drain(3))
			}
		}()
	}
	wg.Wait()

	if b.Len() != 100 {
		t.Errorf("Len = %d, want 100 after concurrent writes", b.Len())
	}
}

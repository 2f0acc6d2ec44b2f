package queue

import (
	"sync"
	"testing"
)

type row struct {
	VehicleID string
	Tick      int
}

func TestQueue_New(t *testing.T) {
	q := New[row]()
	if q == nil {
		t.Fatal("expected non-nil queue")
	}
	if !q.Empty() {
		t.Error("expected empty queue")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_PushPopOrder(t *testing.T) {
	q := New[row]()

	if got := q.Pop(); got != (row{}) {
		t.Errorf("expected zero value from empty queue, got %+v", got)
	}

	q.Push(row{"veh_0", 1}, row{"veh_1", 1})
	q.Push(row{"veh_0", 2})

	for _, want := range []row{{"veh_0", 1}, {"veh_1", 1}, {"veh_0", 2}} {
		if got := q.Pop(); got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	}
	if !q.Empty() {
		t.Error("expected empty queue after draining")
	}
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[row]()
	q.Push(row{"veh_0", 1}, row{"veh_1", 1})

	items := q.GetAndEmpty()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !q.Empty() {
		t.Error("expected empty queue")
	}

	q.Push(row{"veh_2", 3})
	if items[0].VehicleID != "veh_0" {
		t.Error("pushing after GetAndEmpty must not alias the returned slice")
	}
}

func TestQueue_BoundedDropsOldest(t *testing.T) {
	q := NewBounded[int](3)
	q.Push(1, 2)
	q.Push(3, 4, 5)

	if q.Len() != 3 {
		t.Fatalf("expected length 3, got %d", q.Len())
	}
	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", q.Dropped())
	}
	got := q.GetAndEmpty()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestQueue_BoundedZeroCapacityIsUnbounded(t *testing.T) {
	q := NewBounded[int](0)
	for i := range 100 {
		q.Push(i)
	}
	if q.Len() != 100 || q.Dropped() != 0 {
		t.Errorf("expected 100 items and no drops, got %d and %d", q.Len(), q.Dropped())
	}
}

func TestQueue_Requeue(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	batch := q.GetAndEmpty()
	q.Push(3)
	q.Requeue(batch)

	got := q.GetAndEmpty()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestQueue_RequeueBoundedKeepsNewest(t *testing.T) {
	q := NewBounded[int](2)
	q.Push(3)
	q.Requeue([]int{1, 2})

	got := q.GetAndEmpty()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3], got %v", got)
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", q.Dropped())
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := range 100 {
				q.Push(base*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Errorf("expected 1000 items, got %d", q.Len())
	}
}

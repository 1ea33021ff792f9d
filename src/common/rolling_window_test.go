package common

import (
	"reflect"
	"testing"
)

func TestRollingWindowAppendAndGet(t *testing.T) {
	w := NewRollingWindow[string]("test", 2)

	for i, v := range []string{"a", "b", "c"} {
		if err := w.Set(v, i); err != nil {
			t.Fatal(err)
		}
	}

	items, lastIndex := w.GetLastWindow()
	if lastIndex != 2 {
		t.Fatalf("lastIndex should be 2, not %d", lastIndex)
	}
	if !reflect.DeepEqual(items, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected window contents: %v", items)
	}

	tail, err := w.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tail, []string{"b", "c"}) {
		t.Fatalf("Get(0) should return [b c], not %v", tail)
	}

	// nothing newer than the last index
	empty, err := w.Get(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("Get above lastIndex should be empty, not %v", empty)
	}
}

func TestRollingWindowRejectsGaps(t *testing.T) {
	w := NewRollingWindow[int]("test", 2)

	if err := w.Set(0, 0); err != nil {
		t.Fatal(err)
	}

	err := w.Set(9, 9)
	if !IsCoded(err, SkippedIndex) {
		t.Fatalf("inserting past lastIndex+1 should fail with SkippedIndex, got %v", err)
	}
}

func TestRollingWindowRolls(t *testing.T) {
	size := 2
	w := NewRollingWindow[int]("test", size)

	// fill to twice the nominal size, then one more to trigger the roll
	for i := 0; i <= 2*size; i++ {
		if err := w.Set(i, i); err != nil {
			t.Fatal(err)
		}
	}

	items, lastIndex := w.GetLastWindow()
	if lastIndex != 2*size {
		t.Fatalf("lastIndex should be %d, not %d", 2*size, lastIndex)
	}
	if !reflect.DeepEqual(items, []int{2, 3, 4}) {
		t.Fatalf("after the roll the window should hold [2 3 4], not %v", items)
	}

	// reads below the oldest cached index are TooLate
	if _, err := w.Get(0); !IsCoded(err, TooLate) {
		t.Fatalf("reading below the window should fail with TooLate, got %v", err)
	}
	if _, err := w.GetItem(1); !IsCoded(err, TooLate) {
		t.Fatalf("GetItem below the window should fail with TooLate, got %v", err)
	}

	// in-window replace still works
	if err := w.Set(40, 4); err != nil {
		t.Fatal(err)
	}
	item, err := w.GetItem(4)
	if err != nil {
		t.Fatal(err)
	}
	if item != 40 {
		t.Fatalf("GetItem(4) should return the replaced value 40, not %d", item)
	}
}

func TestCodedErrKinds(t *testing.T) {
	err := NewCodedErr(KeyNotFound, "Thing", "42")

	if !IsCoded(err, KeyNotFound) {
		t.Fatal("IsCoded should match the error's kind")
	}
	if IsCoded(err, TooLate) {
		t.Fatal("IsCoded should not match a different kind")
	}
	if err.Kind() != KeyNotFound {
		t.Fatalf("Kind should be KeyNotFound, not %d", err.Kind())
	}
}

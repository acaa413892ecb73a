package pool

import (
	"testing"
)

func TestPowerOfTwoSizeBytes(t *testing.T) {
	bs, err := GetPowerOfTwoSizeBytes(100)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cap(*bs), 128; got != want {
		t.Errorf("cap: got %d, want %d", got, want)
	}

	*bs = append(*bs, []byte("hello world, so beautiful")...)
	if err := FreePowerOfTwoSizeBytes(*bs); err != nil {
		t.Fatal(err)
	}
}

func TestPowerOfTwoSizeBytesZero(t *testing.T) {
	bs, err := GetPowerOfTwoSizeBytes(0)
	if err != nil {
		t.Fatal(err)
	}
	if bs != nil {
		t.Errorf("got %v, want nil", bs)
	}

	if err := FreePowerOfTwoSizeBytes(nil); err != nil {
		t.Errorf("free nil: got %v, want nil", err)
	}
}

func TestFreeForeignBuffer(t *testing.T) {
	// A buffer whose capacity is not a pool bucket cannot be freed.
	if err := FreePowerOfTwoSizeBytes(make([]byte, 0, 100)); err == nil {
		t.Error("expected error for non-pow2 capacity")
	}
}

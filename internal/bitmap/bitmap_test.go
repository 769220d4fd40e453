package bitmap

import "testing"

func TestAllocBasic(t *testing.T) {
	tests := []struct {
		name     string
		nbits    int
		pre      [][2]int // [start,len] runs to pre-allocate
		allocN   int
		wantOK   bool
		wantFrom int
	}{
		{name: "empty bitmap fits at zero", nbits: 128, allocN: 4, wantOK: true, wantFrom: 0},
		{name: "zero-length alloc fails", nbits: 64, allocN: 0, wantOK: false},
		{name: "skips a fully allocated leading word", nbits: 128, pre: [][2]int{{0, 64}}, allocN: 2, wantOK: true, wantFrom: 64},
		{name: "finds gap after partial allocation", nbits: 128, pre: [][2]int{{0, 10}}, allocN: 5, wantOK: true, wantFrom: 10},
		{name: "no run large enough", nbits: 64, pre: [][2]int{{0, 60}}, allocN: 8, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.nbits)
			for _, run := range tt.pre {
				b.setRun(run[0], run[1])
			}
			entry, _, ok := b.Alloc(tt.allocN)
			if ok != tt.wantOK {
				t.Fatalf("Alloc(%d) ok = %v, want %v", tt.allocN, ok, tt.wantOK)
			}
			if ok && entry != tt.wantFrom {
				t.Fatalf("Alloc(%d) = %d, want %d", tt.allocN, entry, tt.wantFrom)
			}
		})
	}
}

func TestAllocMarksBitsAndIsIdempotentFree(t *testing.T) {
	b := New(256)
	entry, _, ok := b.Alloc(10)
	if !ok || entry != 0 {
		t.Fatalf("Alloc(10) = %d,%v", entry, ok)
	}
	for i := 0; i < 10; i++ {
		if !b.Test(i) {
			t.Fatalf("entry %d should be allocated", i)
		}
	}
	if b.Test(10) {
		t.Fatalf("entry 10 should still be free")
	}

	b.Free(entry, 10)
	for i := 0; i < 10; i++ {
		if b.Test(i) {
			t.Fatalf("entry %d should be free after Free", i)
		}
	}
	// Freeing an already-free run must not corrupt unrelated bits.
	b.Free(entry, 10)
	for i := 0; i < 10; i++ {
		if b.Test(i) {
			t.Fatalf("entry %d should still be free after double Free", i)
		}
	}
}

func TestAllocWindowRespectsBounds(t *testing.T) {
	b := New(128)
	entry, _, ok := b.AllocWindow(4, 32, 40)
	if !ok || entry < 32 || entry+4 > 40 {
		t.Fatalf("AllocWindow out of bounds: entry=%d ok=%v", entry, ok)
	}
	// A window too narrow for the request fails without mutating state.
	before := append([]uint64(nil), b.Words...)
	_, _, ok = b.AllocWindow(100, 0, 10)
	if ok {
		t.Fatalf("expected failure for oversized request in narrow window")
	}
	for i := range before {
		if before[i] != b.Words[i] {
			t.Fatalf("failed AllocWindow mutated bitmap state")
		}
	}
}

func TestExcludeMarksRangeUsed(t *testing.T) {
	b := New(64)
	b.Exclude(10, 20)
	for i := 10; i < 20; i++ {
		if !b.Test(i) {
			t.Fatalf("entry %d should be excluded", i)
		}
	}
	entry, _, ok := b.AllocWindow(5, 10, 20)
	if ok {
		t.Fatalf("excluded window should not satisfy allocation, got entry %d", entry)
	}
}

func TestMaxRunReportedOnFailure(t *testing.T) {
	b := New(64)
	b.setRun(0, 30)
	// Free run from 30..63 is 34 bits long; request more than exists.
	_, maxRun, ok := b.Alloc(64)
	if ok {
		t.Fatalf("expected allocation to fail")
	}
	if maxRun != 34 {
		t.Fatalf("maxRun = %d, want 34", maxRun)
	}
}

package quota

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestDeplete(t *testing.T) {
	tests := []struct {
		name         string
		slots        []int64
		elapsed      int64
		want         []int64
		wantOverflow int64
	}{
		{"single slot overflows", []int64{15}, 20, []int64{}, 5},
		{"oldest consumed, next partial", []int64{5, 5, 5}, 7, []int64{3, 5}, 0},
		{"exact match empties ledger", []int64{5, 5}, 10, []int64{}, 0},
		{"zero elapsed keeps ledger", []int64{4, 6}, 0, []int64{4, 6}, 0},
		{"negative elapsed treated as zero", []int64{4, 6}, -3, []int64{4, 6}, 0},
		{"empty ledger bleeds everything", nil, 9, []int64{}, 9},
		{"zero entries pruned", []int64{0, 3, 0, 4}, 1, []int64{2, 4}, 0},
		{"newest untouched", []int64{10, 20, 30}, 10, []int64{20, 30}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overflow := Deplete(tt.slots, tt.elapsed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Deplete() slots = %v, want %v", got, tt.want)
			}
			if overflow != tt.wantOverflow {
				t.Errorf("Deplete() overflow = %d, want %d", overflow, tt.wantOverflow)
			}
		})
	}
}

func TestDepleteDoesNotMutateInput(t *testing.T) {
	slots := []int64{5, 5, 5}
	_, _ = Deplete(slots, 7)
	if !reflect.DeepEqual(slots, []int64{5, 5, 5}) {
		t.Fatalf("input mutated: %v", slots)
	}
}

func TestDepleteConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		slots := make([]int64, rng.Intn(6))
		for j := range slots {
			slots[j] = rng.Int63n(500)
		}
		elapsed := rng.Int63n(2000)

		updated, overflow := Deplete(slots, elapsed)
		total := Sum(slots)

		consumed := elapsed
		if consumed > total {
			consumed = total
		}
		if Sum(updated)+consumed != total {
			t.Fatalf("conservation violated: slots=%v elapsed=%d updated=%v", slots, elapsed, updated)
		}
		if overflow != elapsed-consumed {
			t.Fatalf("overflow = %d, want %d (slots=%v elapsed=%d)", overflow, elapsed-consumed, slots, elapsed)
		}
		for _, slot := range updated {
			if slot <= 0 {
				t.Fatalf("non-positive slot survived: %v", updated)
			}
		}
	}
}

func TestReplenish(t *testing.T) {
	tests := []struct {
		name       string
		slots      []int64
		amount     int64
		maxHistory int
		want       []int64
	}{
		{"evicts oldest at cap", []int64{10, 10, 10}, 5, 3, []int64{10, 10, 5}},
		{"appends below cap", []int64{10}, 5, 3, []int64{10, 5}},
		{"empty ledger", nil, 3600, 3, []int64{3600}},
		{"evicts several when cap shrank", []int64{1, 2, 3, 4}, 5, 2, []int64{4, 5}},
		{"zero amount does not evict", []int64{1, 2, 3}, 0, 3, []int64{1, 2, 3}},
		{"cap below one treated as one", []int64{7, 8}, 9, 0, []int64{9}},
		{"prunes empty slots first", []int64{0, 4}, 6, 2, []int64{4, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Replenish(tt.slots, tt.amount, tt.maxHistory)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Replenish() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSum(t *testing.T) {
	if got := Sum([]int64{1, 2, 3}); got != 6 {
		t.Errorf("Sum() = %d, want 6", got)
	}
	if got := Sum(nil); got != 0 {
		t.Errorf("Sum(nil) = %d, want 0", got)
	}
}

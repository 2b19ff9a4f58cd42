// Package quota implements the slot ledger arithmetic. Ledgers are ordered
// oldest-first; both depletion and eviction consume from the front.
package quota

// Deplete consumes elapsed seconds from slots in order, starting at index 0.
// Slots that reach zero are dropped from the result. When elapsed exceeds the
// sum of all slots the residual is returned as overflow instead of driving a
// slot negative.
func Deplete(slots []int64, elapsed int64) ([]int64, int64) {
	remaining := elapsed
	if remaining < 0 {
		remaining = 0
	}

	updated := make([]int64, 0, len(slots))
	for _, slot := range slots {
		if slot <= 0 {
			continue
		}
		if remaining == 0 {
			updated = append(updated, slot)
			continue
		}
		if slot > remaining {
			updated = append(updated, slot-remaining)
			remaining = 0
			continue
		}
		remaining -= slot
	}

	return updated, remaining
}

// Replenish appends amount as the newest slot and evicts the oldest slots
// until the ledger holds at most maxHistory entries. A non-positive amount
// leaves the ledger unchanged apart from pruning empty slots.
func Replenish(slots []int64, amount int64, maxHistory int) []int64 {
	if maxHistory < 1 {
		maxHistory = 1
	}

	updated := Prune(slots)
	if amount <= 0 {
		return updated
	}

	updated = append(updated, amount)
	if excess := len(updated) - maxHistory; excess > 0 {
		updated = updated[excess:]
	}

	result := make([]int64, len(updated))
	copy(result, updated)
	return result
}

// Prune returns a copy of slots without zero or negative entries.
func Prune(slots []int64) []int64 {
	pruned := make([]int64, 0, len(slots))
	for _, slot := range slots {
		if slot > 0 {
			pruned = append(pruned, slot)
		}
	}
	return pruned
}

// Sum returns the total number of seconds held in slots.
func Sum(slots []int64) int64 {
	var total int64
	for _, slot := range slots {
		if slot > 0 {
			total += slot
		}
	}
	return total
}

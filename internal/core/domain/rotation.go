// Package domain contains core business entities
package domain

import "sort"

// RotationPick computes the next assignee from a round-robin queue snapshot.
// It is a pure function: the queue store runs it inside a single atomic
// read-modify-write so concurrent callers cannot interleave.
//
// Steps:
//  1. If the queue's member set has drifted from the eligible set, rebuild
//     it from the eligible set in ascending ID order (deterministic).
//  2. Pick the first queued agent that is in the allowed subset.
//  3. Rotate the picked agent to the tail of the full queue, leaving skipped
//     (unavailable) agents at their positions so they are not penalized.
//
// Returns the possibly-rebuilt/rotated queue in next. ok is false when the
// allowed intersection is empty; next still carries any rebuild.
func RotationPick(queue, eligible, allowed []int64) (picked int64, next []int64, rebuilt, ok bool) {
	if !SameMembers(queue, eligible) {
		next = make([]int64, len(eligible))
		copy(next, eligible)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		rebuilt = true
	} else {
		next = make([]int64, len(queue))
		copy(next, queue)
	}

	allowedSet := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}

	for i, id := range next {
		if _, in := allowedSet[id]; !in {
			continue
		}
		// Move the picked agent to the tail of the full queue
		next = append(append(next[:i:i], next[i+1:]...), id)
		return id, next, rebuilt, true
	}

	return 0, next, rebuilt, false
}

// SameMembers reports whether a and b contain the same ID set, order ignored
func SameMembers(a, b []int64) bool {
	setA := make(map[int64]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	setB := make(map[int64]struct{}, len(b))
	for _, id := range b {
		setB[id] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for id := range setB {
		if _, in := setA[id]; !in {
			return false
		}
	}
	return true
}

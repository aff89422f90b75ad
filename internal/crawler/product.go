package crawler

// NeedsSnapshot reports whether storing next over prev must append a price
// snapshot. prev is nil for a first insert. A null price never snapshots.
func NeedsSnapshot(prev *Product, next Product) bool {
	if next.Price == nil {
		return false
	}
	if prev == nil || prev.Price == nil {
		return true
	}
	return !prev.Price.Equal(*next.Price)
}

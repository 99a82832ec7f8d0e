package graph

// findExisting returns the index of the first entity in insertion order whose
// id matches and which still exists. A linear scan is enough for the few
// hundred entities a media graph carries.
func findExisting[T record](items []T, id uint32) (int, bool) {
	for i := range items {
		if gotID, exists := items[i].ref(); exists && gotID == id {
			return i, true
		}
	}
	return -1, false
}

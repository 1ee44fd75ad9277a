package docs

// Checklist entry operations. All operations are pure: they return a new
// slice and never mutate their input. Unknown entry ids are ignored rather
// than reported, matching the store's fail-silent mutation contract.

// AddEntry inserts an entry at the bottom of the list, or at the top when
// atTop is set. If the id is already present the existing entry is replaced
// in place instead of duplicated.
func AddEntry(entries []Entry, entry Entry, atTop bool) []Entry {
	for index := range entries {
		if entries[index].ID == entry.ID {
			updated := make([]Entry, len(entries))
			copy(updated, entries)
			updated[index] = entry
			return updated
		}
	}
	updated := make([]Entry, 0, len(entries)+1)
	if atTop {
		updated = append(updated, entry)
		updated = append(updated, entries...)
		return updated
	}
	updated = append(updated, entries...)
	updated = append(updated, entry)
	return updated
}

// ChangeEntry rewrites the text and/or crossed state of the entry with the
// given id. Nil fields are left untouched. A missing id is a no-op.
func ChangeEntry(entries []Entry, id int64, newText *string, newCrossed *bool) []Entry {
	updated := make([]Entry, len(entries))
	copy(updated, entries)
	for index := range updated {
		if updated[index].ID != id {
			continue
		}
		if newText != nil {
			updated[index].Text = *newText
		}
		if newCrossed != nil {
			updated[index].Crossed = *newCrossed
		}
		break
	}
	return updated
}

// RemoveEntry drops the entry with the given id. Removing an id that is not
// present leaves the list unchanged, so repeated removal is idempotent.
func RemoveEntry(entries []Entry, id int64) []Entry {
	updated := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == id {
			continue
		}
		updated = append(updated, entry)
	}
	return updated
}

// ReorderEntries rebuilds the list following the supplied id order. Ids in
// the order that do not exist in the list are dropped silently; entries the
// order does not mention keep their relative position after the ordered ones.
func ReorderEntries(entries []Entry, order []int64) []Entry {
	byID := make(map[int64]Entry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}

	updated := make([]Entry, 0, len(entries))
	placed := make(map[int64]bool, len(order))
	for _, id := range order {
		entry, ok := byID[id]
		if !ok || placed[id] {
			continue
		}
		updated = append(updated, entry)
		placed[id] = true
	}
	for _, entry := range entries {
		if placed[entry.ID] {
			continue
		}
		updated = append(updated, entry)
	}
	return updated
}

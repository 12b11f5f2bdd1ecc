package state

// SelectionState tracks the id of the currently displayed generation. It
// does not validate membership in any HistoryStore. The empty string means
// nothing is selected.
//
// SelectionState is not safe for concurrent use.
type SelectionState struct {
	current string
}

// Select sets the current selection. Pass "" to select nothing.
func (s *SelectionState) Select(id string) {
	s.current = id
}

// Current returns the selected id, or "" when nothing is selected.
func (s *SelectionState) Current() string {
	return s.current
}

// Clear selects nothing.
func (s *SelectionState) Clear() {
	s.current = ""
}

// ClearIfMatches clears the selection only when it equals id, and reports
// whether it did.
func (s *SelectionState) ClearIfMatches(id string) bool {
	if id == "" || s.current != id {
		return false
	}
	s.current = ""
	return true
}

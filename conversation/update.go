package conversation

import "fmt"

// Update is an explicit remove+add change to the message history. Removals
// apply first; additions are appended in order. Messages are never mutated
// in place.
type Update struct {
	Remove []string  `json:"remove,omitempty"`
	Add    []Message `json:"add,omitempty"`
}

// Apply performs u against the state. Removing an unknown id is an error
// and leaves the state untouched.
func (s *State) Apply(u Update) error {
	if len(u.Remove) > 0 {
		present := make(map[string]bool, len(s.Messages))
		for _, m := range s.Messages {
			present[m.ID] = true
		}
		drop := make(map[string]bool, len(u.Remove))
		for _, id := range u.Remove {
			if !present[id] {
				return fmt.Errorf("remove: message %q not in history", id)
			}
			drop[id] = true
		}
		kept := make([]Message, 0, len(s.Messages)-len(drop))
		for _, m := range s.Messages {
			if !drop[m.ID] {
				kept = append(kept, m)
			}
		}
		s.Messages = kept
	}
	s.Messages = append(s.Messages, u.Add...)
	return nil
}

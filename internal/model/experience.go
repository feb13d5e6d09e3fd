package model

// MaxWinners is the number of podium places per experience
const MaxWinners = 3

// ExperienceSlot is the runtime progress of one experience. Unfilled winner
// places are nil and serialize as JSON null.
type ExperienceSlot struct {
	Winners [MaxWinners]*string `json:"winners"`
	Active  bool                `json:"active"`
}

// NewExperienceSlots returns count empty slots
func NewExperienceSlots(count int) []ExperienceSlot {
	if count < 0 {
		count = 0
	}
	return make([]ExperienceSlot, count)
}

// AddWinner places userID in the first empty place and returns the 1-based
// place. A user already on the podium keeps and gets back their place. It
// returns 0 when the podium is full.
func (s *ExperienceSlot) AddWinner(userID string) int {
	for i, w := range s.Winners {
		if w != nil && *w == userID {
			return i + 1
		}
	}
	for i, w := range s.Winners {
		if w == nil {
			id := userID
			s.Winners[i] = &id
			return i + 1
		}
	}
	return 0
}

// WinnerIDs returns the filled places in order
func (s *ExperienceSlot) WinnerIDs() []string {
	ids := make([]string, 0, MaxWinners)
	for _, w := range s.Winners {
		if w != nil {
			ids = append(ids, *w)
		}
	}
	return ids
}

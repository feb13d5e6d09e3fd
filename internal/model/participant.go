package model

// Participant is the ephemeral runtime record of someone inside a started
// trip. Score[i] is only meaningful when FinishedExperiences[i] is true.
type Participant struct {
	UserID              string `json:"userId"`
	Role                Role   `json:"role"`
	Name                string `json:"name"`
	ImageURL            string `json:"imageUrl"`
	Score               []int  `json:"score"`
	FinishedExperiences []bool `json:"finishedExperiences"`
}

// NewParticipant returns a record with empty progress
func NewParticipant(id Identity, name, imageURL string) *Participant {
	if name == "" {
		name = id.Name
	}
	return &Participant{
		UserID:              id.ID,
		Role:                id.Role,
		Name:                name,
		ImageURL:            imageURL,
		Score:               []int{},
		FinishedExperiences: []bool{},
	}
}

// Total is the leaderboard value of the record
func (p *Participant) Total() int {
	total := 0
	for _, s := range p.Score {
		total += s
	}
	return total
}

// HasFinished reports whether the experience at index is done
func (p *Participant) HasFinished(index int) bool {
	return index >= 0 && index < len(p.FinishedExperiences) && p.FinishedExperiences[index]
}

// Finish credits score for the experience at index, growing both arrays
// so they stay aligned
func (p *Participant) Finish(index, score int) {
	for len(p.Score) <= index {
		p.Score = append(p.Score, 0)
	}
	for len(p.FinishedExperiences) <= index {
		p.FinishedExperiences = append(p.FinishedExperiences, false)
	}
	p.Score[index] = score
	p.FinishedExperiences[index] = true
}

// ParticipantPatch is a partial update; nil fields are left alone
type ParticipantPatch struct {
	Name                *string `json:"name,omitempty"`
	ImageURL            *string `json:"imageUrl,omitempty"`
	Score               []int   `json:"score,omitempty"`
	FinishedExperiences []bool  `json:"finishedExperiences,omitempty"`
}

// Apply merges the patch into p and reports whether the score changed
func (patch ParticipantPatch) Apply(p *Participant) bool {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	if patch.FinishedExperiences != nil {
		p.FinishedExperiences = patch.FinishedExperiences
	}
	if patch.Score != nil {
		p.Score = patch.Score
		return true
	}
	return false
}

// LeaderboardEntry is one ranked participant
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
	Rank   int    `json:"rank"`
}

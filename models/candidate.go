package models

import "time"

type Candidate struct {
	ID         string    `json:"id"`
	ElectionID string    `json:"election_id"`
	Name       string    `json:"name"`
	Party      string    `json:"party"`
	Position   int       `json:"position"`
	Biography  string    `json:"biography,omitempty"`
	Manifesto  string    `json:"manifesto,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c *Candidate) Validate() error {
	if err := requireField("election_id", c.ElectionID, MaxIDLength); err != nil {
		return err
	}
	if err := requireField("name", c.Name, MaxNameLength); err != nil {
		return err
	}
	if err := requireField("party", c.Party, MaxNameLength); err != nil {
		return err
	}
	if err := optionalField("biography", c.Biography, MaxDescriptionLength); err != nil {
		return err
	}

	return optionalField("manifesto", c.Manifesto, MaxDescriptionLength)
}

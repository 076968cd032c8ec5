package domain

import "github.com/google/uuid"

// Group is the minimal view of a chat group the signaling core needs
type Group struct {
	GroupID uuid.UUID   `json:"groupId"`
	Name    string      `json:"name"`
	Members []uuid.UUID `json:"members"`
}

// HasMember reports whether userID belongs to the group
func (g *Group) HasMember(userID uuid.UUID) bool {
	return containsID(g.Members, userID)
}

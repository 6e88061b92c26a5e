package model

// Roles carried in the identity token.
const (
	RoleResident = "RESIDENT"
	RoleAdmin    = "ADMIN"
)

// Identity is the authenticated caller as asserted by the identity token.
type Identity struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	CommunityID string `json:"community_id"`
	Role        string `json:"role"`
}

// IsAdmin reports whether the caller administers their community.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

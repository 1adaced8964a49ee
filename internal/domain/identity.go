package domain

// Identity is the authenticated principal scoping all bookmark data.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// SameIdentity reports whether a and b denote the same principal.
// Two nil identities are the same; nil and non-nil never are.
func SameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// Equal reports whether a and b are the same principal with the same profile.
func (i *Identity) Equal(other *Identity) bool {
	if !SameIdentity(i, other) {
		return false
	}
	if i == nil {
		return true
	}
	return *i == *other
}

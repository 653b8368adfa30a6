package model

// CredentialSet is a candidate login for discovered switches.
// DefaultPassword is tried first; PreferredPassword is what a factory-state
// switch is rotated to during first login.
type CredentialSet struct {
	Username          string `json:"username"`
	DefaultPassword   string `json:"password"`
	PreferredPassword string `json:"preferred_password,omitempty"`
}

// Empty reports whether the credential set carries no login at all.
func (c CredentialSet) Empty() bool {
	return c.Username == "" && c.DefaultPassword == "" && c.PreferredPassword == ""
}

package domain

// Team is an organization team as reported by the provisioning backend.
// Security and Core are classification flags derived from configuration:
// a security-sensitive team skips the security question, the core/shared
// team skips the multi-team question.
type Team struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Security bool   `json:"security,omitempty"`
	Core     bool   `json:"core,omitempty"`
}

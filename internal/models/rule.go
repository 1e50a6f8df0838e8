package models

// Reserved response keys. They are invoked by state transitions and never
// matched against visitor text.
const (
	ResponseKeyGreeting       = "greeting"
	ResponseKeyPasswordPrompt = "password_prompt"
	ResponseKeyNewCustomer    = "new_customer"
	ResponseKeyUnknown        = "unknown"
)

// IsReservedKey reports whether key names a transition response
func IsReservedKey(key string) bool {
	switch key {
	case ResponseKeyGreeting, ResponseKeyPasswordPrompt, ResponseKeyNewCustomer, ResponseKeyUnknown:
		return true
	}
	return false
}

// ResponseRule is one entry of the keyword table
type ResponseRule struct {
	ID       int64    `json:"id" yaml:"id"`
	Key      string   `json:"key,omitempty" yaml:"key,omitempty"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Text     string   `json:"text" yaml:"text"`
	Priority int      `json:"priority" yaml:"priority"`
	IsActive bool     `json:"is_active" yaml:"is_active"`
}

package conversation

// Conversation defaults
const (
	DefaultMaxMessages  = 500
	DefaultHistoryLimit = 40
)

package eventbus

// Listener lifecycle topics.
const (
	TopicListenerReady   = "listener:ready"
	TopicListenerStopped = "listener:stopped"
	TopicListenerError   = "listener:error"
)

// TopicStoreChanged carries StoreChange payloads between handles of a shared
// in-process credential medium. The medium suffixes it with its own id.
const TopicStoreChanged = "store:changed"

// ListenerEvent is the payload of every listener topic.
type ListenerEvent struct {
	Name  string
	Addrs []string
	Err   error
}

// StoreChange describes one write to a shared key-value medium. Empty Keys
// means the whole medium was cleared.
type StoreChange struct {
	Keys   []string `json:"keys,omitempty"`
	Origin string   `json:"origin"`
}

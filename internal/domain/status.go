package domain

// ConnectionStatus reflects the transport state of one change feed subscription.
// It is advisory: correctness never depends on it.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

func (s ConnectionStatus) String() string { return string(s) }

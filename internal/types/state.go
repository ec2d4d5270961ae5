package types

// Credential is the access/refresh token pair owned by a CredentialStore.
// Tokens are opaque; nothing in this module parses them.
type Credential struct {
	AccessToken  string `json:"access_token" dynamodbav:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty" dynamodbav:"refresh_token"`
}

// IsZero reports whether no access token is held.
func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}

// Envelope is the unit exchanged over the event channel, in both directions.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WildcardType subscribes to every envelope regardless of its type.
const WildcardType = "*"

// RefreshState is the state of a refresh coordinator.
type RefreshState int

const (
	RefreshIdle RefreshState = iota
	RefreshRefreshing
)

func (s RefreshState) String() string {
	switch s {
	case RefreshIdle:
		return "idle"
	case RefreshRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// ConnectionState is the state of an event channel client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Closing is only entered through an explicit disconnect and is left only
	// through an explicit connect.
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

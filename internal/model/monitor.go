package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string       `json:"status"` // "healthy", "idle"
	Connections ConnStats    `json:"connections"`
	Clients     []ClientInfo `json:"clients"`
}

// ConnStats holds connection-related statistics
type ConnStats struct {
	UsersOnline      int            `json:"usersOnline"`      // users with at least one live connection
	TotalConnections int            `json:"totalConnections"` // total live device connections
	DevicesPerUser   map[string]int `json:"devicesPerUser"`   // userID -> connection count
}

// ClientInfo contains information about a connected client
type ClientInfo struct {
	ClientID           string `json:"clientId"`
	UserID             string `json:"userId"`
	ActiveConversation string `json:"activeConversation,omitempty"` // thread open on this device, if any
}

package hub

import (
	"RoastMedia/internal/model"
)

// MonitorService provides methods to gather relay statistics
type MonitorService struct {
	registry *Registry
}

// NewMonitorService creates a new monitor service
func NewMonitorService(registry *Registry) *MonitorService {
	return &MonitorService{registry: registry}
}

// GetStats gathers and returns presence statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	devices := make(map[string]int)
	clients := make([]model.ClientInfo, 0)

	ms.registry.ForEachConn(func(userID string, c Conn) {
		devices[userID]++
		clients = append(clients, model.ClientInfo{
			ClientID:           c.ID(),
			UserID:             userID,
			ActiveConversation: c.ActiveConversation(),
		})
	})

	status := "healthy"
	if len(clients) == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status: status,
		Connections: model.ConnStats{
			UsersOnline:      len(devices),
			TotalConnections: len(clients),
			DevicesPerUser:   devices,
		},
		Clients: clients,
	}
}

package api

type (
	// ErrorResponse is the body of a failed HTTP request
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}

	// HealthResponse reports the health of the service
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
	}

	// ScheduleResponse describes one persisted schedule
	ScheduleResponse struct {
		ScheduleID ScheduleID `json:"schedule_id"`
		Running    bool       `json:"running"`
		Hibernated bool       `json:"hibernated,omitempty"`
		Context    Args       `json:"context,omitempty"`
	}

	// ScheduleListResponse lists persisted schedules
	ScheduleListResponse struct {
		Schedules []ScheduleID `json:"schedules"`
		Count     int          `json:"count"`
	}
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

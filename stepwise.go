package stepwise

const (
	// Name identifies the service in logs
	Name = "stepwise"

	// Version is the current release of the engine
	Version = "0.1.0"
)

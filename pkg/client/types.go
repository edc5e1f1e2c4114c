package client

// EnsureRequest registers a slot with optional requested ports.
type EnsureRequest struct {
	Name     string `json:"name"`
	Dir      string `json:"dir,omitempty"`
	Command  string `json:"command,omitempty"`
	Backend  int    `json:"backend,omitempty"`
	Frontend int    `json:"frontend,omitempty"`
}

// Record mirrors a registry record as returned by the server.
type Record struct {
	Backend  int    `json:"backend"`
	Frontend int    `json:"frontend"`
	PID      int    `json:"pid"`
	Dir      string `json:"dir,omitempty"`
	Command  string `json:"command,omitempty"`
}

// OpenResult mirrors the server's open/restart response.
type OpenResult struct {
	Record         Record `json:"record"`
	AlreadyRunning bool   `json:"already_running"`
	PID            int    `json:"pid"`
	Startup        int64  `json:"startup"`
}

// SlotStatus mirrors the server's status response.
type SlotStatus struct {
	Name     string `json:"name"`
	Backend  int    `json:"backend"`
	Frontend int    `json:"frontend"`
	PID      int    `json:"pid"`
	Up       bool   `json:"up"`
	State    string `json:"state"`
}

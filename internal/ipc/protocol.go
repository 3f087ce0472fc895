package ipc

// Commands understood by running host and device processes.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	Role    string `json:"role,omitempty"`
	State   string `json:"state,omitempty"`
	Peer    string `json:"peer,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

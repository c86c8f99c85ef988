package proto

// REST bodies shared by the HTTP API and its client.

// Credentials is the register and login request body.
type Credentials struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
	// Role is only read on register; admins cannot self-register.
	Role Role `json:"role,omitempty"`
}

// AuthResponse carries a credential for the websocket and REST API.
type AuthResponse struct {
	Token string `json:"token"`
	User  Sender `json:"user"`
}

// CreateRoomRequest opens a support request.
type CreateRoomRequest struct {
	Topic   string  `json:"topic" binding:"required,min=1,max=200"`
	Urgency Urgency `json:"urgency,omitempty"`
}

// ErrorResponse is the body of every non-2xx REST answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

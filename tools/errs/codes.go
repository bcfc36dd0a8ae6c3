package errs

// protocol
var (
	ErrInvalidFrame         = NewCodeError(1000, "Invalid message format")
	ErrUnknownType          = NewCodeError(1001, "Unknown message type")
	ErrAuthRequired         = NewCodeError(1002, "Authentication required")
	ErrAlreadyAuthenticated = NewCodeError(1003, "Already authenticated")
	ErrInvalidPayload       = NewCodeError(1004, "Invalid payload")
)

// authentication, closes the connection
var (
	ErrAuthFailed         = newFatal(2000, "Authentication failed")
	ErrTooManyConnections = newFatal(2001, "Too many connections")
	ErrServerShuttingDown = newFatal(2002, "Server shutting down")
)

// authorization
var (
	ErrAccessDenied = NewCodeError(3000, "Access denied to room")
	ErrNotInRoom    = NewCodeError(3001, "Not a member of this room")
)

// validation
var (
	ErrContentEmpty       = NewCodeError(4000, "Message content is required")
	ErrContentTooLong     = NewCodeError(4001, "Message content is too long")
	ErrInvalidMessageType = NewCodeError(4002, "Invalid message type")
)

// collaborators
var (
	ErrStoreFailure = NewCodeError(5000, "Failed to process request")
	ErrInternal     = NewCodeError(5001, "Internal server error")
)

// config
var (
	ErrArgs = NewCodeError(6000, "invalid configuration")
)

package wsclient

// Reserved command codes. All of them can be overridden through the client
// configuration.
const (
	// CmdPing carries the "ping" heartbeat text
	CmdPing uint16 = 100
	// CmdServerTime is used by servers that answer with their clock
	CmdServerTime uint16 = 101
	CmdLogin      uint16 = 102
	CmdLogout     uint16 = 103
	// CmdBusiness is the default command for application messages
	CmdBusiness uint16 = 200
)

// Agent types written into the frame header.
const (
	AgentTypeWeb       uint8 = 0
	AgentTypeApp       uint8 = 1
	AgentTypeNativeWeb uint8 = 2
)

// Heartbeat sentinels. They never go through JSON.
const (
	PingText = "ping"
	PongText = "pong"
)

// Request ids used by the login and logout envelopes
const (
	LoginRequestID  = "id-login"
	LogoutRequestID = "id-logout"
)

// Default business codes and dispatch key
const (
	DefaultLoginBizCode  = "a1001"
	DefaultLogoutBizCode = "a1003"
	DefaultDispatchKey   = "bizCode"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "invalid message format"
	ErrParseError           = "parse error"
	ErrMissingCode          = "missing numeric code"

	// Client errors
	ErrFailedToEncode  = "failed to encode message"
	ErrFailedToBuffer  = "failed to buffer message"
	ErrFailedToClear   = "failed to clear pending messages"
	ErrNilCallback     = "callback is nil"
	ErrUnknownDispatch = "unsupported dispatch key for requests"
)

package protocol

// Wire tags identifying the message kind (element 0 of every message).
const (
	TypeRequest      = 0
	TypeResponse     = 1
	TypeNotification = 2
)

// ContentType is the media type used when messages travel over HTTP.
const ContentType = "application/msgpack"

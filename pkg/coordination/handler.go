package coordination

// handler processes inbound coordination messages for the node's current
// role. The controller swaps the handler when the role changes, so
// role-specific logic never branches on role checks at dispatch time.
type handler interface {
	// CanHandle reports whether this role consumes the message type.
	CanHandle(msgType string) bool
	// Handle processes one inbound message. It runs on the controller's
	// single processing goroutine.
	Handle(msg Message) error
}

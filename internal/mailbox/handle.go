package mailbox

import "fmt"

// Handle identifies one message in one mailbox generation.
type Handle struct {
	Mailbox     string
	UIDValidity uint32
	UID         uint32
}

// Key is the idempotency key recorded on tickets created from the message.
// UIDs are only unique within a UIDVALIDITY epoch, so both are part of it.
func (h Handle) Key() string {
	return fmt.Sprintf("%s/%d/%d", h.Mailbox, h.UIDValidity, h.UID)
}

package services

import "fmt"

// Ticket codes are the short public identifiers collaborators see. They are
// strictly monotonic per type; sequences advance under the owning service's
// lock so two tickets can never collide.
func formatTicket(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%d", prefix, seq)
}

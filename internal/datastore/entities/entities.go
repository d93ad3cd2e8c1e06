package entities

// All returns every model in migration order.
func All() []any {
	return []any{
		&Device{},
		&AlertRule{},
		&Measurement{},
		&Ticket{},
		&TicketEvent{},
		&PollerCursor{},
	}
}

package eventbus

// Event types published inside remindkit.
const (
	// TypePermissionChanged carries a PermissionChange. Capability caches
	// drop their state when they see it.
	TypePermissionChanged = "platform.permission_changed"
	// TypeDelivered carries a Delivery from a platform backend.
	TypeDelivered = "platform.delivered"
	// TypeForeground asks the engine for a foreground pass.
	TypeForeground = "app.foreground"
	// TypeReminderScheduled, TypeReminderCancelled and TypeReminderArchived carry a reminder id.
	TypeReminderScheduled = "reminder.scheduled"
	TypeReminderCancelled = "reminder.cancelled"
	TypeReminderArchived  = "reminder.archived"
)

package domain

// Notification is one rendered expiry reminder for a single delivery method.
type Notification struct {
	Key     string             `json:"key"`
	UserID  string             `json:"userId"`
	TaskID  string             `json:"taskId"`
	Method  NotificationMethod `json:"method"`
	Title   string             `json:"title"`
	Body    string             `json:"body"`
	Email   string             `json:"email,omitempty"`
	Expires string             `json:"expires,omitempty"`
}

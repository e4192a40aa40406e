package domain

import "slices"

type NotificationMethod string

const (
	NotifyVisual NotificationMethod = "visual"
	NotifyToast  NotificationMethod = "toast"
	NotifyEmail  NotificationMethod = "email"
	NotifyPush   NotificationMethod = "push"
)

func (m NotificationMethod) Valid() bool {
	switch m {
	case NotifyVisual, NotifyToast, NotifyEmail, NotifyPush:
		return true
	}
	return false
}

type NotificationSettings struct {
	Enabled     bool                 `json:"enabled"`
	DaysBefore  int                  `json:"daysBefore"`
	HoursBefore int                  `json:"hoursBefore"`
	Methods     []NotificationMethod `json:"methods"`
}

// ThresholdHours is the look-ahead window for expiry notifications.
func (s NotificationSettings) ThresholdHours() int {
	return s.DaysBefore*24 + s.HoursBefore
}

func (s NotificationSettings) Has(m NotificationMethod) bool {
	return slices.Contains(s.Methods, m)
}

// DefaultNotificationSettings is assigned to newly registered users.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:     true,
		DaysBefore:  1,
		HoursBefore: 0,
		Methods:     []NotificationMethod{NotifyVisual, NotifyToast},
	}
}

type User struct {
	ID                   string               `json:"id"`
	Email                string               `json:"email"`
	DisplayName          string               `json:"displayName,omitempty"`
	PhotoURL             string               `json:"photoURL,omitempty"`
	NotificationSettings NotificationSettings `json:"notificationSettings"`
}

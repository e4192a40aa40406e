package domain

import "time"

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func FormatDateTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateTimeLayout)
}

// ParseDate reads a yyyy-mm-dd value in loc. An empty string yields nil.
func ParseDate(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func IsExpired(t *time.Time, now time.Time) bool {
	return t != nil && t.Before(now)
}

// IsExpiringSoon reports whether t falls strictly between now and the
// notification threshold.
func IsExpiringSoon(t *time.Time, now time.Time, daysBefore, hoursBefore int) bool {
	if t == nil {
		return false
	}
	threshold := now.AddDate(0, 0, daysBefore).Add(time.Duration(hoursBefore) * time.Hour)
	return t.After(now) && t.Before(threshold)
}

func CreateExpiryDate(now time.Time, days, hours int) time.Time {
	return now.AddDate(0, 0, days).Add(time.Duration(hours) * time.Hour)
}

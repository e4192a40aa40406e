// Package notify decides when a task's expiry should be announced and what
// the reminder says. Rendering and sending are left to the delivery side.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"prism-board/domain"
)

type Status string

const (
	StatusNormal   Status = "normal"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
)

// until returns the whole hours and days between now and t, truncated
// toward zero.
func until(t, now time.Time) (hours, days int) {
	d := t.Sub(now)
	return int(d / time.Hour), int(d / (24 * time.Hour))
}

// ExpiryStatus classifies a task for highlighting. Expired tasks are flagged
// even when notifications are off.
func ExpiryStatus(task domain.Task, settings domain.NotificationSettings, now time.Time) Status {
	if task.ExpiryDate == nil {
		return StatusNormal
	}
	if task.ExpiryDate.Before(now) {
		return StatusExpired
	}
	if !settings.Enabled {
		return StatusNormal
	}
	hours, _ := until(*task.ExpiryDate, now)
	if hours > 0 && hours <= settings.ThresholdHours() {
		return StatusExpiring
	}
	return StatusNormal
}

func remaining(hours, days int) string {
	if days > 0 {
		return fmt.Sprintf("%d day(s)", days)
	}
	return fmt.Sprintf("%d hour(s)", hours)
}

// Result is the outcome of one expiry check.
type Result struct {
	// Expiring lists the ids of every task inside the notification window.
	Expiring []string
	// Notifications holds reminders not sent before, one per method.
	Notifications []domain.Notification
	// Visual reports whether the user wants expiring tasks highlighted.
	Visual bool
}

// Tracker remembers which reminders were already produced so that each
// (task, remaining hours, method) is announced once.
type Tracker struct {
	mu       sync.Mutex
	notified map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{notified: map[string]struct{}{}}
}

// mark records key and reports whether it was new.
func (t *Tracker) mark(key string) bool {
	if _, ok := t.notified[key]; ok {
		return false
	}
	t.notified[key] = struct{}{}
	return true
}

// forget drops every key of a task that left the window, so it is announced
// again if it re-enters.
func (t *Tracker) forget(taskID string) {
	prefix := taskID + "-"
	for k := range t.notified {
		if strings.HasPrefix(k, prefix) {
			delete(t.notified, k)
		}
	}
}

// Check evaluates tasks for user at now.
func (t *Tracker) Check(user domain.User, tasks []domain.Task, now time.Time) Result {
	settings := user.NotificationSettings
	if !settings.Enabled {
		return Result{}
	}
	threshold := settings.ThresholdHours()

	t.mu.Lock()
	defer t.mu.Unlock()

	res := Result{Visual: settings.Has(domain.NotifyVisual)}
	for _, task := range tasks {
		if task.ExpiryDate == nil {
			continue
		}
		hours, days := until(*task.ExpiryDate, now)
		if hours <= 0 || hours > threshold || !task.ExpiryDate.After(now) {
			t.forget(task.ID)
			continue
		}
		res.Expiring = append(res.Expiring, task.ID)

		key := fmt.Sprintf("%s-%d", task.ID, hours)
		left := remaining(hours, days)
		expires := task.ExpiryDate.UTC().Format(time.RFC3339)
		base := domain.Notification{UserID: user.ID, TaskID: task.ID, Expires: expires}

		if settings.Has(domain.NotifyToast) && t.mark(key) {
			n := base
			n.Key = key
			n.Method = domain.NotifyToast
			n.Body = fmt.Sprintf("\"%s\" expires in %s", task.Title, left)
			res.Notifications = append(res.Notifications, n)
		}
		if settings.Has(domain.NotifyEmail) && t.mark(key+"-email") {
			n := base
			n.Key = key + "-email"
			n.Method = domain.NotifyEmail
			n.Email = user.Email
			n.Title = fmt.Sprintf("Task \"%s\" expires soon", task.Title)
			n.Body = fmt.Sprintf("Your task \"%s\" expires in %s.", task.Title, left)
			res.Notifications = append(res.Notifications, n)
		}
		if settings.Has(domain.NotifyPush) && t.mark(key+"-push") {
			n := base
			n.Key = key + "-push"
			n.Method = domain.NotifyPush
			n.Title = "Task Expiring Soon"
			n.Body = fmt.Sprintf("\"%s\" expires in %s", task.Title, left)
			res.Notifications = append(res.Notifications, n)
		}
	}
	return res
}

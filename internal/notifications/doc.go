// Package notifications publishes batch milestones to ntfy.
//
// A configured ntfy topic (a full URL, or a bare topic name on ntfy.sh)
// enables the HTTP notifier; without one NewService returns a no-op so callers
// never branch on configuration.
package notifications

// Package notification delivers user-facing notifications.
//
// A submission is deduplicated by ID against the persisted history, recorded
// as pending, then handed to the first presenter registered for its level.
// Low-level notifications carry a timeout; when it fires the presenter's
// context is cancelled and the presenter decides how to resolve. The engine
// only ever signals, it never invents a response.
//
// # Events
//
// For every successful submission the engine publishes, in order:
// notification.presented, at most one of notification.confirmed,
// notification.dismissed or notification.cancelled, and notification.finished.
// The final record is persisted before the outcome event is published.
//
// A presenter that fails (returns an error or panics) ends the submission
// right after invocation; nothing is published for it.
package notification

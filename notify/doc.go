// Package notify holds handshake.Notifier implementations: SMTP delivery
// through gomail and a development-only notifier that logs messages.
package notify

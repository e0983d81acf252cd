// Package security derives a posture report from the login engine settings.
// It has no side effects and is safe to call from startup logging.
package security

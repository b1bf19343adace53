//go:build !linux && !darwin && !windows

package notify

// platformSend has nothing to call; Show has already logged the message.
func platformSend(title, message string) error {
	return nil
}

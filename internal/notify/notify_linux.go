//go:build linux

package notify

import (
	"fmt"
	"os/exec"
)

// platformSend uses notify-send, present on most desktop environments.
func platformSend(title, message string) error {
	cmd := exec.Command("notify-send",
		"--app-name=jukeboxd",
		"--urgency=normal",
		"--icon=audio-x-generic",
		title,
		message,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, out)
	}
	return nil
}

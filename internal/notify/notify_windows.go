//go:build windows

package notify

import (
	"fmt"
	"os/exec"
)

const toastScript = `
$ErrorActionPreference = "Stop"
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
$xml = New-Object Windows.Data.Xml.Dom.XmlDocument
$xml.LoadXml('<toast><visual><binding template="ToastText02"><text id="1">%s</text><text id="2">%s</text></binding></visual></toast>')
$toast = [Windows.UI.Notifications.ToastNotification]::new($xml)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("jukeboxd").Show($toast)
`

// platformSend raises a toast through PowerShell (Windows 10 and later).
func platformSend(title, message string) error {
	script := fmt.Sprintf(toastScript, powerShellXML(title), powerShellXML(message))
	if out, err := exec.Command("powershell", "-NoProfile", "-Command", script).CombinedOutput(); err != nil {
		return fmt.Errorf("powershell toast: %w: %s", err, out)
	}
	return nil
}

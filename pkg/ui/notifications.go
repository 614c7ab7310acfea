package ui

import (
	"fmt"
	"os/exec"
	"runtime"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender uses notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name=tweetdigest", title, message).Run()
}

// MacOSNotificationSender uses osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier prints run outcomes and, when a sender exists for the platform,
// raises a desktop notification. Send failures are ignored.
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks a sender for the current platform. Unsupported
// platforms get console output only.
func NewNotifier() *Notifier {
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: &LinuxNotificationSender{}}
	case "darwin":
		return &Notifier{sender: &MacOSNotificationSender{}}
	}
	return &Notifier{}
}

// NewNotifierWithSender uses sender, which may be nil
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// DigestReady announces a finished run
func (n *Notifier) DigestReady(posts int, location string) {
	msg := fmt.Sprintf("%d posts in digest", posts)
	if posts == 1 {
		msg = "1 post in digest"
	}
	if location != "" {
		msg += ": " + location
	}
	PrintSuccess("Digest ready: " + msg)
	n.send("Digest ready", msg)
}

// RunFailed announces a failed run
func (n *Notifier) RunFailed(err error) {
	PrintError("Run failed", err)
	n.send("Digest run failed", err.Error())
}

func (n *Notifier) send(title, message string) {
	if n == nil || n.sender == nil {
		return
	}
	_ = n.sender.Send(title, message)
}

// Package notifier pushes operator alerts. The interface is intentionally
// small so components can depend on it without importing Telegram.
package notifier

type TextNotifier interface {
	SendText(text string) error
}

// Noop satisfies TextNotifier when alerts are disabled.
type Noop struct{}

func (Noop) SendText(string) error { return nil }

package notifier

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// PhotoNotifier extends TextNotifier with image delivery for exit reports.
type PhotoNotifier interface {
	TextNotifier
	SendPhoto(caption string, png []byte) error
}

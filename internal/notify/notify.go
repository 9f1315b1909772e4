// Package notify provides user-facing notifications for the simulator client.
package notify

import (
	"sync"
	"time"

	apperrors "simtrader/internal/errors"
)

// Kind is the severity of a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Notification is a message shown to the user.
type Notification struct {
	Kind      Kind      `json:"type"`
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier displays notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// Success builds a success notification.
func Success(message string) Notification {
	return Notification{Kind: KindSuccess, Message: message, Timestamp: time.Now()}
}

// Info builds an informational notification.
func Info(message string) Notification {
	return Notification{Kind: KindInfo, Message: message, Timestamp: time.Now()}
}

// Warning builds a warning notification.
func Warning(message string) Notification {
	return Notification{Kind: KindWarning, Message: message, Timestamp: time.Now()}
}

// Error builds a notification with the user-facing text of err. Input the
// user can correct is reported as a warning.
func Error(err error) Notification {
	kind := KindError
	var (
		valErr  *apperrors.ValidationError
		busyErr *apperrors.BusyError
	)
	if apperrors.As(err, &valErr) || apperrors.As(err, &busyErr) {
		kind = KindWarning
	}
	return Notification{Kind: kind, Message: apperrors.UserMessage(err), Timestamp: time.Now()}
}

// Level filters which notifications reach a channel.
type Level string

const (
	LevelAll        Level = "all"
	LevelErrorsOnly Level = "errors_only"
)

// MultiNotifier fans notifications out to several notifiers.
type MultiNotifier struct {
	mu        sync.RWMutex
	notifiers []Notifier
	level     Level
}

// NewMultiNotifier creates a fan-out notifier.
func NewMultiNotifier(level Level, notifiers ...Notifier) *MultiNotifier {
	if level == "" {
		level = LevelAll
	}
	return &MultiNotifier{notifiers: notifiers, level: level}
}

// Add registers another notifier.
func (m *MultiNotifier) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Notify delivers n to every registered notifier.
func (m *MultiNotifier) Notify(n Notification) {
	if m.level == LevelErrorsOnly && n.Kind != KindError {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()

	for _, nt := range notifiers {
		nt.Notify(n)
	}
}

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	max   int
	items []Notification
}

// NewRecorder creates a recorder that keeps at most max notifications.
// A max of zero keeps everything.
func NewRecorder(max int) *Recorder {
	return &Recorder{max: max}
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.max > 0 && len(r.items) > r.max {
		r.items = r.items[len(r.items)-r.max:]
	}
}

// All returns the recorded notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Clear drops all recorded notifications.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

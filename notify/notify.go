// Package notify delivers the "queue empty" notification.
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

const (
	// Title is the notification title.
	Title = "Mochi Diffusion"
	// Body is sent when every queued request has finished.
	Body = "Your images are ready!"
)

// Notification is one delivered message.
type Notification struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Sound bool      `json:"sound"`
	Time  time.Time `json:"time"`
}

// Sink receives notifications. Implementations must not block.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify calls f.
func (f SinkFunc) Notify(n Notification) { f(n) }

// Preferences are the user toggles for notifications.
type Preferences struct {
	SendNotification  bool `yaml:"send_notification" json:"send_notification"`
	NotificationSound bool `yaml:"notification_sound" json:"notification_sound"`
}

// Notifier fans the queue-empty notification out to its sinks. It
// implements generation.Notifier.
type Notifier struct {
	mu     sync.RWMutex
	prefs  Preferences
	sinks  []Sink
	logger *zap.Logger
}

// New creates a Notifier.
func New(prefs Preferences, logger *zap.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{prefs: prefs, sinks: sinks, logger: logger.Named("notify")}
}

// AddSink registers another sink.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// SetPreferences replaces the toggles.
func (n *Notifier) SetPreferences(p Preferences) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prefs = p
}

// Preferences returns the current toggles.
func (n *Notifier) Preferences() Preferences {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.prefs
}

// SendQueueEmptyNotification notifies every sink unless notifications are off.
func (n *Notifier) SendQueueEmptyNotification() {
	n.mu.RLock()
	prefs := n.prefs
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.RUnlock()

	if !prefs.SendNotification {
		n.logger.Debug("queue empty, notifications disabled")
		return
	}
	msg := Notification{Title: Title, Body: Body, Sound: prefs.NotificationSound, Time: time.Now()}
	for _, s := range sinks {
		s.Notify(msg)
	}
}

// LogSink writes notifications to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(n Notification) {
	s.Logger.Info(n.Body, zap.String("title", n.Title), zap.Bool("sound", n.Sound))
}

// ConsoleSink prints notifications to a terminal, ringing the bell when
// sound is on.
type ConsoleSink struct {
	Out io.Writer
}

// NewConsoleSink writes to stdout.
func NewConsoleSink() ConsoleSink {
	return ConsoleSink{Out: os.Stdout}
}

// Notify implements Sink.
func (s ConsoleSink) Notify(n Notification) {
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	color.New(color.FgCyan, color.Bold).Fprintf(out, "%s: ", n.Title)
	color.New(color.FgGreen).Fprint(out, n.Body)
	if n.Sound {
		fmt.Fprint(out, "\a")
	}
	fmt.Fprintln(out)
}

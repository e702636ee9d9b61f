// Package notify surfaces persistence problems to the person using the app.
package notify

import (
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// DefaultTitle heads every desktop notification.
const DefaultTitle = "Lifebook"

// Log records notices in the log only.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

// CouldNotSave logs a failed local write.
func (l *Log) CouldNotSave(collection string, err error) {
	l.logger.Error().Err(err).Str("collection", collection).Msg("Could not save")
}

// Desktop shows a desktop notification through beeep and logs it.
type Desktop struct {
	Log
	title string
	send  func(title, message string, icon any) error
}

// NewDesktop returns a Desktop notifier. An empty title uses DefaultTitle.
func NewDesktop(title string, logger zerolog.Logger) *Desktop {
	if title == "" {
		title = DefaultTitle
	}
	return &Desktop{
		Log:   *NewLog(logger),
		title: title,
		send:  beeep.Notify,
	}
}

// CouldNotSave logs the failure and raises a desktop notice. A notification
// failure is logged and otherwise ignored; the write error was already recorded.
func (d *Desktop) CouldNotSave(collection string, err error) {
	d.Log.CouldNotSave(collection, err)
	msg := fmt.Sprintf("Could not save your %s. Your changes are kept in this session; try again before closing.", collection)
	if notifErr := d.send(d.title, msg, ""); notifErr != nil {
		// Common causes: notification permissions not granted, or no notification daemon.
		d.logger.Warn().Err(notifErr).Msg("Failed to send desktop notification")
	}
}

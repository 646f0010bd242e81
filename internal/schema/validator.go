// Package schema validates outgoing events before they are published.
package schema

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vision-caption-client/internal/models"
)

var ErrUnknownEvent = errors.New("unknown event type")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a known event.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.CaptionCompleted:
		return v.validateCommon(ev.EventType, models.EventCaptionCompleted, ev.SessionID, ev.CaptureID, ev.Timestamp)
	case *models.CaptionCompleted:
		return v.Validate(*ev)
	case models.SpeechDropped:
		if err := v.validateCommon(ev.EventType, models.EventSpeechDropped, ev.SessionID, ev.CaptureID, ev.Timestamp); err != nil {
			return err
		}
		if ev.Reason == "" {
			return errors.New("speech dropped event requires a reason")
		}
		return nil
	case *models.SpeechDropped:
		return v.Validate(*ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

func (v *Validator) validateCommon(eventType, want, sessionId, captureId string, ts int64) error {
	if eventType != want {
		return fmt.Errorf("eventType %q, want %q", eventType, want)
	}
	if sessionId == "" {
		return errors.New("sessionId is required")
	}
	if _, err := uuid.Parse(captureId); err != nil {
		return fmt.Errorf("captureId %q is not a uuid: %w", captureId, err)
	}
	if ts <= 0 {
		return errors.New("timestamp is required")
	}
	return nil
}

// Package dispatch fans an emergency alert out to trusted contacts over
// one or more delivery channels. All attempts settle independently: a
// failure for one contact or one channel never blocks the others, and
// Broadcast always returns one result entry per contact.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"safevoice/internal/models"
	"safevoice/pkg/logger"
	"safevoice/pkg/metrics"

	"go.uber.org/zap"
)

// Alert is the broadcast payload for one trigger event.
type Alert struct {
	UserName    string           `json:"userName"`
	EmergencyID string           `json:"emergencyId"`
	Contacts    []models.Contact `json:"contacts"`
}

// Report is the settled outcome of one broadcast. SystemFailure marks
// conditions that are not per-contact failures: no contacts in the
// payload, or a wholly unreachable backend. It is reported, never
// thrown; an emergency already ACTIVE must stay triggered.
type Report struct {
	Results       []models.DispatchResult `json:"results"`
	SystemFailure string                  `json:"systemFailure,omitempty"`
	Simulated     bool                    `json:"simulated,omitempty"`
}

// Channel is one delivery mechanism. Exactly one Send per contact per
// broadcast; the dispatcher never retries.
type Channel interface {
	Name() string
	Send(ctx context.Context, phone, body string) error
}

const (
	FailureNoContacts  = "no contacts provided"
	FailureUnreachable = "alert backend unreachable"
)

// Dispatcher broadcasts over an ordered channel list (preferred first).
type Dispatcher struct {
	channels  []Channel
	appURL    string
	simulated bool
	m         *metrics.Metrics
}

func New(appURL string, channels ...Channel) *Dispatcher {
	d := &Dispatcher{channels: channels, appURL: appURL, m: metrics.Default(), simulated: len(channels) > 0}
	for _, ch := range channels {
		if _, ok := ch.(Console); !ok {
			d.simulated = false
		}
	}
	return d
}

// TrackingURL builds the public link embedded in every alert message.
func (d *Dispatcher) TrackingURL(emergencyID string) string {
	return fmt.Sprintf("%s/track?id=%s", d.appURL, emergencyID)
}

func (d *Dispatcher) messageBody(a Alert) string {
	return fmt.Sprintf("🚨 EMERGENCY ALERT\n%s needs help.\n\nLive tracking:\n%s",
		a.UserName, d.TrackingURL(a.EmergencyID))
}

// Broadcast attempts every channel for every contact, one attempt each.
// It never returns an error: partial and total failures are captured in
// the report so the caller's emergency lifecycle cannot be aborted by
// delivery problems.
func (d *Dispatcher) Broadcast(ctx context.Context, a Alert) Report {
	if len(a.Contacts) == 0 {
		d.m.DispatchSystemFailure()
		return Report{SystemFailure: FailureNoContacts}
	}

	body := d.messageBody(a)
	report := Report{Simulated: d.simulated}
	attempts := 0
	allUnreachable := true

	for _, contact := range a.Contacts {
		result := models.DispatchResult{
			Name:   contact.Name,
			Phone:  contact.Phone,
			Status: models.DispatchFailed,
		}
		for _, ch := range d.channels {
			attempts++
			err := ch.Send(ctx, contact.Phone, body)
			cr := models.ChannelResult{Channel: ch.Name(), Status: models.DispatchSent}
			if err != nil {
				cr.Status = models.DispatchFailed
				cr.Error = err.Error()
				if !isUnreachable(err) {
					allUnreachable = false
				}
				logger.Warn("alert delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("contact", contact.Name),
					zap.Error(err))
			} else {
				result.Status = models.DispatchSent
				allUnreachable = false
			}
			d.m.DispatchResult(ch.Name(), string(cr.Status))
			result.Channels = append(result.Channels, cr)
		}
		report.Results = append(report.Results, result)
	}

	if attempts > 0 && allUnreachable {
		report.SystemFailure = FailureUnreachable
		d.m.DispatchSystemFailure()
	}
	return report
}

// isUnreachable separates transport-level failures (connection refused,
// DNS, timeout) from API rejections, which are per-contact failures.
func isUnreachable(err error) bool {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

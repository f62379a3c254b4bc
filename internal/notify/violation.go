package notify

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/units"
)

// Sender is the part of a shoutrrr router the notifier uses.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// ViolationNotifier pushes a message for every event over the speed limit.
type ViolationNotifier struct {
	sender   Sender
	limitKMH float64
	mph      bool
}

// NewViolationNotifier builds a shoutrrr router for urls.
func NewViolationNotifier(urls []string, limitKMH float64, mph bool, timeout time.Duration) (*ViolationNotifier, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("notify: at least one notification URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("notify: create sender: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))
	return newViolationNotifier(sender, limitKMH, mph), nil
}

func newViolationNotifier(sender Sender, limitKMH float64, mph bool) *ViolationNotifier {
	return &ViolationNotifier{sender: sender, limitKMH: limitKMH, mph: mph}
}

// Exceeds reports whether e is over the limit. A zero limit disables
// notifications.
func (n *ViolationNotifier) Exceeds(e eventlog.Event) bool {
	return n.limitKMH > 0 && e.SpeedKMH > n.limitKMH
}

// Notify sends a message when e is over the limit.
func (n *ViolationNotifier) Notify(_ context.Context, e eventlog.Event) error {
	if !n.Exceeds(e) {
		return nil
	}
	params := types.Params{}
	params.SetTitle("Speeding vehicle")
	for _, err := range n.sender.Send(n.Message(e), &params) {
		if err != nil {
			return fmt.Errorf("notify: send: %w", err)
		}
	}
	return nil
}

// Message formats the notification body.
func (n *ViolationNotifier) Message(e eventlog.Event) string {
	speed, limit := e.SpeedKMH, n.limitKMH
	if n.mph {
		speed, limit = e.SpeedMPH, n.limitKMH*units.KMPHToMPH
	}
	return fmt.Sprintf("%s %s %s at %.1f %s (limit %.0f) on %s",
		e.ObjectColor, e.ObjectType, e.Direction, speed, units.Label(n.mph), limit,
		e.Timestamp.Format(eventlog.TimeLayout))
}

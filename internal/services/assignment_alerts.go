package services

import (
	"context"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/view"
)

// TokenLookup finds the push tokens of a driver's devices
type TokenLookup interface {
	DriverTokens(ctx context.Context, driverID string) ([]string, error)
}

// Pusher delivers the assignment notification to a driver's devices
type Pusher interface {
	SendDeliveryAssignedNotification(ctx context.Context, tokens []string, d models.Delivery) error
}

// AssignmentAlerter pushes a notification to a driver's phone once a
// reassignment to them has been confirmed
type AssignmentAlerter struct {
	tokens  TokenLookup
	push    Pusher
	reader  view.Reader
	log     logging.Logger
	timeout time.Duration
}

func NewAssignmentAlerter(tokens TokenLookup, push Pusher, reader view.Reader, log logging.Logger) *AssignmentAlerter {
	return &AssignmentAlerter{tokens: tokens, push: push, reader: reader, log: log, timeout: 10 * time.Second}
}

// OnOutcome reacts to committed reassignments. It never blocks the caller.
func (a *AssignmentAlerter) OnOutcome(o mutation.Outcome) {
	if !o.Committed || o.Kind != mutation.KindReassignDelivery {
		return
	}
	for _, ref := range o.Entities {
		if ref.Kind != models.KindDelivery {
			continue
		}
		delivery, ok := a.reader.Delivery(ref.ID)
		if !ok || delivery.DriverID == nil {
			continue
		}
		go a.send(delivery)
	}
}

func (a *AssignmentAlerter) send(d models.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	driverID := d.AssignedTo()
	tokens, err := a.tokens.DriverTokens(ctx, driverID)
	if err != nil {
		a.log.Errorf("❌ [FCM] token lookup for driver %s failed: %v", driverID, err)
		return
	}
	if len(tokens) == 0 {
		a.log.Infof("[FCM] driver %s has no registered devices", driverID)
		return
	}

	if err := a.push.SendDeliveryAssignedNotification(ctx, tokens, d); err != nil {
		a.log.Errorf("❌ [FCM] push to driver %s failed: %v", driverID, err)
	}
}

package services

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// FCMService pushes dispatch events to drivers' phones through Firebase Cloud Messaging
type FCMService struct {
	client *messaging.Client
	log    logging.Logger
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(credentialsFile string, log logging.Logger) (*FCMService, error) {
	return newFCMService(option.WithCredentialsFile(credentialsFile), log)
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
// This is useful for cloud deployments where you can't upload files easily
func NewFCMServiceFromBase64(credentialsBase64 string, log logging.Logger) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(option.WithCredentialsJSON(credentialsJSON), log)
}

func newFCMService(opt option.ClientOption, log logging.Logger) (*FCMService, error) {
	ctx := context.Background()

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client, log: log}, nil
}

// SendDeliveryAssignedNotification tells every device of the assigned driver about a delivery
func (s *FCMService) SendDeliveryAssignedNotification(ctx context.Context, tokens []string, d models.Delivery) error {
	response, err := s.client.SendEachForMulticast(ctx, deliveryAssignedMessage(tokens, d))
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	for i, r := range response.Responses {
		if !r.Success {
			s.log.Errorf("⚠️ [FCM] device %d of driver %s rejected the push: %v", i, d.AssignedTo(), r.Error)
		}
	}
	s.log.Infof("✅ [FCM] delivery %s pushed to driver %s: %d success, %d failures",
		d.ID, d.AssignedTo(), response.SuccessCount, response.FailureCount)
	return nil
}

func deliveryAssignedMessage(tokens []string, d models.Delivery) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: "New Delivery Assigned!",
			Body:  fmt.Sprintf("Pick up at %s for %s.", d.Pickup.Address, d.Customer.Name),
		},
		Data: map[string]string{
			"type":        "delivery_assigned",
			"delivery_id": d.ID,
			"driver_id":   d.AssignedTo(),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
}

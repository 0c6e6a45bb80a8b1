package service

import (
	"context"
	"encoding/json"
	"fmt"

	"paygate/pkg/logger"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMService sends push notifications via Firebase Cloud Messaging.
// Clients subscribe to "user-<id>" topics, so the service needs no token store.
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not configured.
func NewFCMService(ctx context.Context, serviceAccountPath string) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		logger.SW("error", err).Errorw("fcm_init_failed")
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		logger.SW("error", err).Errorw("fcm_messaging_client_failed")
		return nil
	}
	return &FCMService{client: client}
}

func UserTopic(userID uint) string {
	return fmt.Sprintf("user-%d", userID)
}

// SendToTopic pushes a notification to every device subscribed to topic.
// All data values are converted to strings (FCM requires string values).
func (s *FCMService) SendToTopic(ctx context.Context, topic, notifType, title, body string, data map[string]interface{}) error {
	if s == nil || topic == "" {
		return nil
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data:  stringifyData(notifType, data),
		Topic: topic,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		logger.SW("topic", topic, "type", notifType, "error", err).Warnw("fcm_send_failed")
		return err
	}
	return nil
}

func stringifyData(notifType string, data map[string]interface{}) map[string]string {
	out := map[string]string{"type": notifType}
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case uint:
			out[k] = fmt.Sprintf("%d", val)
		case int:
			out[k] = fmt.Sprintf("%d", val)
		case int64:
			out[k] = fmt.Sprintf("%d", val)
		case float64:
			out[k] = fmt.Sprintf("%.0f", val)
		default:
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out
}

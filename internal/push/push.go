package push

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/zentrochat/zentro/internal/metrics"
	"github.com/zentrochat/zentro/internal/models"
)

type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// Notifier sends Web Push notifications to subscribed users.
type Notifier struct {
	subs            SubscriptionStore
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	client          *http.Client
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty;
// a nil Notifier silently drops notifications.
func NewNotifier(subs SubscriptionStore, vapidPublicKey, vapidPrivateKey string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		subs:            subs,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      "mailto:push@zentro.local",
		client:          &http.Client{Timeout: 30 * time.Second},
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// NotifyNewMessage pushes a new message notice to every subscription of
// receiverID. Delivery happens in the background.
func (n *Notifier) NotifyNewMessage(receiverID, senderName, roomID, preview string) {
	if n == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	subs, err := n.subs.ListPushSubscriptions(ctx, receiverID)
	cancel()
	if err != nil {
		log.Printf("push: failed to query subscriptions user=%s err=%v", receiverID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	data, _ := json.Marshal(payload{
		Title: "New message from " + senderName,
		Body:  preview,
		URL:   "/chat/" + roomID,
	})

	log.Printf("push: sending notification subscriptions=%d user=%s", len(subs), receiverID)
	for _, sub := range subs {
		go n.sendToSubscription(sub, data)
	}
}

func (n *Notifier) sendToSubscription(sub models.PushSubscription, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, s, &webpush.Options{
		HTTPClient:      n.client,
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		metrics.PushNotifications.WithLabelValues("error").Inc()
		log.Printf("push: failed to send endpoint=%s err=%v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// 404 and 410 mean the browser dropped the subscription.
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		metrics.PushNotifications.WithLabelValues("expired").Inc()
		if err := n.subs.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("push: failed to remove expired subscription endpoint=%s err=%v", sub.Endpoint, err)
			return
		}
		log.Printf("push: removed expired subscription endpoint=%s status=%d", sub.Endpoint, resp.StatusCode)
		return
	}
	metrics.PushNotifications.WithLabelValues("sent").Inc()
}

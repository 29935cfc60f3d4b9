package push

import (
	"context"
	"encoding/json"
	"log"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/4xmen/qased/internal/store"
)

// Notifier sends Web Push notifications to subscribed users. It is the
// fallback delivery path when a receiver has no live connection.
type Notifier struct {
	store           *store.Store
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty;
// a nil Notifier is safe to call and does nothing.
func NewNotifier(st *store.Store, vapidPublicKey, vapidPrivateKey, subscriber string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		store:           st,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// NotifyNewMessage pushes a new-message notification to every active
// subscription of receiverID. Failures are logged, never surfaced.
func (n *Notifier) NotifyNewMessage(receiverID int, senderUsername string) {
	if n == nil {
		return
	}

	subs, err := n.store.ActivePushSubscriptions(context.Background(), receiverID)
	if err != nil {
		log.Printf("push: failed to query subscriptions for user %d: %v", receiverID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	p := payload{
		Title: "پیام جدید",
		Body:  "پیام جدید از " + senderUsername,
		URL:   "/",
	}
	data, _ := json.Marshal(p)

	log.Printf("push: sending notification to %d subscription(s) for user %d", len(subs), receiverID)
	for _, sub := range subs {
		go n.sendToSubscription(sub, data)
	}
}

func (n *Notifier) sendToSubscription(sub store.PushSubscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotification(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		log.Printf("push: failed to send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription is expired.
	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		if err := n.store.DeletePushSubscriptionByEndpoint(context.Background(), sub.Endpoint); err != nil {
			log.Printf("push: failed to remove expired subscription %s: %v", sub.Endpoint, err)
			return
		}
		log.Printf("push: removed expired subscription %s (status %d)", sub.Endpoint, resp.StatusCode)
	}
}

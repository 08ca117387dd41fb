package server

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"uddhar.app/data"
	"uddhar.app/geo"
	"uddhar.app/store"
)

const (
	defaultAlertRadius = 2000.0 // meters
	pushCooldown       = 2 * time.Minute
	maxPushHistory     = 20
)

// PushManager sends web push alerts to volunteers when a report from an
// affected user lands near their last known position
type PushManager struct {
	subs         *data.SubscriptionsFile
	vapidPublic  string
	vapidPrivate string
	subject      string
	radiusMeters float64
}

// NewPushManager creates a push manager. Alerts are disabled (silently
// dropped) while the VAPID keys are unset.
func NewPushManager(subs *data.SubscriptionsFile, vapidPublic, vapidPrivate, subject string, radiusMeters float64) *PushManager {
	if radiusMeters <= 0 {
		radiusMeters = defaultAlertRadius
	}
	pm := &PushManager{
		subs:         subs,
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		subject:      subject,
		radiusMeters: radiusMeters,
	}
	if pm.Enabled() {
		log.Printf("[push] alerts enabled, %d subscriptions loaded", len(subs.GetAllUsers()))
	} else {
		log.Printf("[push] VAPID keys not configured, alerts disabled")
	}
	return pm
}

// Enabled reports whether VAPID keys are configured
func (pm *PushManager) Enabled() bool {
	return len(pm.vapidPublic) > 0 && len(pm.vapidPrivate) > 0
}

// Subscribe registers or replaces a user's browser subscription
func (pm *PushManager) Subscribe(userID string, sub *data.PushSubscription) {
	pm.subs.SetSubscription(userID, sub)

	go func() {
		if err := pm.subs.Save(); err != nil {
			log.Printf("[push] save subscriptions: %v", err)
		}
	}()
}

// NotifyNearby alerts subscribed volunteers within the radius of a newly
// reported affected-user position
func (pm *PushManager) NotifyNearby(st *store.Store, rec *store.Record) {
	if !pm.Enabled() || rec.Role != store.RoleAffected {
		return
	}

	nearby := st.Nearby(rec.Lat, rec.Lon, pm.radiusMeters, 20)
	for _, v := range nearby {
		if v.Role != store.RoleVolunteer || v.UserID == rec.UserID {
			continue
		}

		// claim the cooldown slot under the file lock so concurrent
		// reports near the same volunteer produce one alert
		var sub *data.PushSubscription
		pm.subs.Update(v.UserID, func(u *data.PushUser) {
			if u.Subscription == nil || time.Since(u.LastPush) < pushCooldown {
				return
			}
			u.LastPush = time.Now()
			sub = u.Subscription
		})
		if sub == nil {
			continue
		}

		dist := geo.DistanceKm(rec.Lat, rec.Lon, v.Lat, v.Lon)
		eta := geo.EtaMinutes(dist, geo.DefaultSpeedKmh)
		if eta < 1 {
			eta = 1
		}

		need := rec.HelpType
		if len(need) == 0 {
			need = "assistance"
		}

		title := "Help needed nearby"
		body := fmt.Sprintf("%s needs %s, %.1fkm away (~%.0f min)", rec.Name, need, dist, eta)
		pm.send(v.UserID, sub, title, body)
	}
}

func (pm *PushManager) send(userID string, sub *data.PushSubscription, title, body string) {
	payload, _ := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
	})

	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      pm.subject,
		VAPIDPublicKey:  pm.vapidPublic,
		VAPIDPrivateKey: pm.vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		log.Printf("[push] send to %s: %v", userID, err)
		return
	}
	defer resp.Body.Close()

	// the push service tells us when a subscription is gone for good
	if resp.StatusCode == 404 || resp.StatusCode == 410 {
		log.Printf("[push] subscription for %s expired, removing", userID)
		pm.subs.RemoveUser(userID)
		return
	}

	pm.subs.Update(userID, func(u *data.PushUser) {
		u.History = append(u.History, data.PushHistoryItem{
			Time:  time.Now(),
			Title: title,
			Body:  body,
		})
		if len(u.History) > maxPushHistory {
			u.History = u.History[len(u.History)-maxPushHistory:]
		}
	})
}

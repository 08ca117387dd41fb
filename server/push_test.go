package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"uddhar.app/data"
	"uddhar.app/store"
)

func pushEndpoint(t *testing.T, status int, hits *int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func browserSubscription(t *testing.T, endpoint string) *data.PushSubscription {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}

	sub := &data.PushSubscription{Endpoint: endpoint}
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(
		elliptic.Marshal(elliptic.P256(), key.X, key.Y))
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(auth)
	return sub
}

func testPushManager(t *testing.T, endpoint string, radius float64) (*PushManager, *data.SubscriptionsFile) {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	subs := data.NewSubscriptions(t.TempDir())
	pm := NewPushManager(subs, pub, priv, "mailto:ops@example.org", radius)
	pm.Subscribe("vol-1", browserSubscription(t, endpoint))
	return pm, subs
}

func TestNotifyNearbySingleAlertUnderConcurrentReports(t *testing.T) {
	var hits int32
	endpoint := pushEndpoint(t, 201, &hits)

	_, st := testGateway(t)
	if _, err := st.Upsert(&store.Report{UserID: "vol-1", Lat: 23.8110, Lon: 90.4120}); err != nil {
		t.Fatal(err)
	}
	rec, err := st.Upsert(&store.Report{UserID: "aff-1", Lat: 23.8115, Lon: 90.4120, HelpType: "rescue"})
	if err != nil {
		t.Fatal(err)
	}

	pm, subs := testPushManager(t, endpoint, 2000)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pm.NotifyNearby(st, rec)
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("%d alerts delivered, want 1 within the cooldown", n)
	}

	u := subs.GetUser("vol-1")
	if u == nil || u.LastPush.IsZero() {
		t.Fatalf("cooldown not recorded: %+v", u)
	}
	if len(u.History) != 1 {
		t.Fatalf("%d history entries, want 1", len(u.History))
	}
}

func TestNotifyNearbyDisabledWithoutKeys(t *testing.T) {
	var hits int32
	endpoint := pushEndpoint(t, 201, &hits)

	_, st := testGateway(t)
	st.Upsert(&store.Report{UserID: "vol-1", Lat: 23.8110, Lon: 90.4120})
	rec, err := st.Upsert(&store.Report{UserID: "aff-1", Lat: 23.8115, Lon: 90.4120})
	if err != nil {
		t.Fatal(err)
	}

	subs := data.NewSubscriptions(t.TempDir())
	pm := NewPushManager(subs, "", "", "mailto:ops@example.org", 2000)
	pm.Subscribe("vol-1", browserSubscription(t, endpoint))

	pm.NotifyNearby(st, rec)
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("%d alerts sent without VAPID keys", n)
	}
}

func TestExpiredSubscriptionRemoved(t *testing.T) {
	var hits int32
	endpoint := pushEndpoint(t, 410, &hits)

	_, st := testGateway(t)
	st.Upsert(&store.Report{UserID: "vol-1", Lat: 23.8110, Lon: 90.4120})
	rec, err := st.Upsert(&store.Report{UserID: "aff-1", Lat: 23.8115, Lon: 90.4120})
	if err != nil {
		t.Fatal(err)
	}

	pm, subs := testPushManager(t, endpoint, 2000)
	pm.NotifyNearby(st, rec)

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("%d delivery attempts, want 1", n)
	}
	if subs.GetUser("vol-1") != nil {
		t.Fatal("gone subscription not removed after 410")
	}
}

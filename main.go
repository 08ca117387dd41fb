package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"uddhar.app/chat"
	"uddhar.app/client/whatsapp"
	"uddhar.app/config"
	"uddhar.app/data"
	"uddhar.app/server"
	"uddhar.app/store"
)

var configFile = flag.String("config", "config.yml", "path to the config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.Open(cfg.DBPath, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	subs := data.NewSubscriptions(cfg.DataDir)
	if err := subs.Load(); err != nil {
		log.Fatal(err)
	}
	assignments := data.NewAssignments(cfg.DataDir)
	if err := assignments.Load(); err != nil {
		log.Fatal(err)
	}
	stopSave := data.StartBackgroundSave(time.Minute, subs, assignments)

	gateway := server.New(st)
	push := server.NewPushManager(subs, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey,
		cfg.Push.Subject, cfg.Push.RadiusMeters)
	gateway.SetPush(push)

	api := &server.API{
		Gateway:     gateway,
		Store:       st,
		Push:        push,
		Assignments: assignments,
	}

	mux := http.NewServeMux()
	api.Routes(mux)

	if helpline, err := chat.New(cfg.Chat.OpenAIKey, cfg.Chat.Model); err != nil {
		log.Printf("[main] helpline disabled: %v", err)
	} else {
		mux.Handle("/chat", helpline)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WhatsApp.Enabled {
		if err := st.AddUser("whatsapp-bridge", "WhatsApp Bridge", store.RoleOther); err != nil {
			log.Fatal(err)
		}
		waDB := cfg.WhatsApp.DBPath
		if len(waDB) == 0 {
			waDB = "whatsapp.db"
		}
		bridge := whatsapp.New("ws://"+cfg.Address+"/presence", "whatsapp-bridge", waDB)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Printf("[main] whatsapp bridge: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.Address,
		Handler: server.WithCors(mux),
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Printf("[main] listening on %s", cfg.Address)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}

	// last flush before exit
	stopSave()
	if err := subs.Save(); err != nil {
		log.Printf("[main] save subscriptions: %v", err)
	}
	if err := assignments.Save(); err != nil {
		log.Printf("[main] save assignments: %v", err)
	}
}

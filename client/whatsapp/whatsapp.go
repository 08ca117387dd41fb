// Package whatsapp bridges urgent position broadcasts into WhatsApp chats.
// Field teams without the app subscribe a group chat and receive alerts
// there.
package whatsapp

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waproto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"uddhar.app/client"
	"uddhar.app/server"
)

// Bridge observes the live feed with its own identity and forwards
// high-priority broadcasts to subscribed chats
type Bridge struct {
	feed   *client.Client
	dbPath string

	mtx   sync.Mutex
	wa    *whatsmeow.Client
	chats map[string]types.JID
}

// New creates a bridge. The bridge identity must exist in the user
// directory or the feed will reject it.
func New(feedURL, userID, dbPath string) *Bridge {
	b := &Bridge{
		dbPath: dbPath,
		chats:  make(map[string]types.JID),
	}
	b.feed = client.New(client.Options{
		URL:    feedURL,
		UserID: userID,
	})
	b.feed.OnMessage(b.onBroadcast)
	return b
}

func (b *Bridge) onBroadcast(m *server.Message) {
	if m.Type != server.TypePositionBroadcast {
		return
	}
	switch strings.ToLower(m.Priority) {
	case "high", "urgent":
	default:
		return
	}
	if m.Latitude == nil || m.Longitude == nil {
		return
	}

	need := m.HelpType
	if len(need) == 0 {
		need = "assistance"
	}
	text := fmt.Sprintf("URGENT: %s (%s) needs %s at https://maps.google.com/?q=%.5f,%.5f",
		m.Name, m.Role, need, *m.Latitude, *m.Longitude)
	if len(m.Description) > 0 {
		text += "\n" + m.Description
	}

	b.mtx.Lock()
	wa := b.wa
	chats := make([]types.JID, 0, len(b.chats))
	for _, jid := range b.chats {
		chats = append(chats, jid)
	}
	b.mtx.Unlock()

	if wa == nil {
		return
	}

	for _, jid := range chats {
		_, err := wa.SendMessage(context.Background(), jid, &waproto.Message{
			Conversation: proto.String(text),
		})
		if err != nil {
			log.Printf("[whatsapp] send to %s: %v", jid, err)
		}
	}
}

func (b *Bridge) eventHandler(evt interface{}) {
	v, ok := evt.(*events.Message)
	if !ok {
		return
	}

	message := v.Message.GetConversation()
	if len(message) == 0 {
		if text := v.Message.GetExtendedTextMessage(); text != nil {
			message = text.GetText()
		}
	}
	if len(message) == 0 {
		return
	}

	chat := v.Info.Chat
	var reply string

	switch strings.ToLower(strings.TrimSpace(message)) {
	case "subscribe":
		b.mtx.Lock()
		b.chats[chat.String()] = chat
		b.mtx.Unlock()
		log.Printf("[whatsapp] chat %s subscribed", chat)
		reply = "Subscribed. Urgent help requests nearby will be posted here. Send 'stop' to unsubscribe."
	case "stop":
		b.mtx.Lock()
		delete(b.chats, chat.String())
		b.mtx.Unlock()
		log.Printf("[whatsapp] chat %s unsubscribed", chat)
		reply = "Unsubscribed."
	default:
		return
	}

	b.mtx.Lock()
	wa := b.wa
	b.mtx.Unlock()
	if wa == nil {
		return
	}
	if _, err := wa.SendMessage(context.Background(), chat, &waproto.Message{
		Conversation: proto.String(reply),
	}); err != nil {
		log.Printf("[whatsapp] reply to %s: %v", chat, err)
	}
}

// Run logs in (printing a QR code on first run), connects the feed and
// blocks until the context is done
func (b *Bridge) Run(ctx context.Context) error {
	dbLog := waLog.Stdout("Database", "ERROR", true)
	container, err := sqlstore.New("sqlite3", "file:"+b.dbPath+"?_foreign_keys=on", dbLog)
	if err != nil {
		return err
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		return err
	}

	waClient := whatsmeow.NewClient(device, waLog.Stdout("Client", "ERROR", true))
	waClient.AddEventHandler(b.eventHandler)

	if waClient.Store.ID == nil {
		// first run, pair via QR
		qrChan, _ := waClient.GetQRChannel(ctx)
		if err := waClient.Connect(); err != nil {
			return err
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			} else {
				log.Printf("[whatsapp] login event: %s", evt.Event)
			}
		}
	} else {
		if err := waClient.Connect(); err != nil {
			return err
		}
	}

	b.mtx.Lock()
	b.wa = waClient
	b.mtx.Unlock()

	if err := b.feed.Connect(ctx); err != nil {
		log.Printf("[whatsapp] feed connect: %v", err)
	}

	<-ctx.Done()

	b.feed.Disconnect()
	waClient.Disconnect()
	return nil
}

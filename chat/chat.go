// Package chat is the helpline assistant. Each user gets a rolling
// conversation; replies stream back token by token so slow connections see
// text immediately.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// DefaultPersona frames the assistant for relief coordination
var DefaultPersona = `You are the helpline assistant for a disaster relief coordination service in Bangladesh. Be calm and practical. Answer in the language the question was asked in. Limit responses to 1024 characters or less.`

// ErrNoKey means the assistant is not configured
var ErrNoKey = errors.New("missing openai api key")

const maxContext = 64

// Context is one prompt/reply exchange kept for conversation continuity
type Context struct {
	Prompt string
	Reply  string
}

// Helpline answers user questions with per-user conversation memory
type Helpline struct {
	client  *openai.Client
	model   string
	persona string

	mtx     sync.Mutex
	context map[string][]Context
}

// New creates a helpline. Fails if no key is configured.
func New(key, model string) (*Helpline, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	if len(model) == 0 {
		model = openai.GPT4oMini
	}
	return &Helpline{
		client:  openai.NewClient(key),
		model:   model,
		persona: DefaultPersona,
		context: make(map[string][]Context),
	}, nil
}

// request builds the completion request with the user's prior exchanges
func (h *Helpline) request(userID, prompt string) openai.ChatCompletionRequest {
	h.mtx.Lock()
	prior := h.context[userID]
	h.mtx.Unlock()

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: h.persona,
	}}

	for _, c := range prior {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: c.Prompt,
		})
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: c.Reply,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	return openai.ChatCompletionRequest{
		Model:    h.model,
		Messages: messages,
		User:     userID,
	}
}

// remember appends an exchange to the user's rolling context
func (h *Helpline) remember(userID, prompt, reply string) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	ctx := append(h.context[userID], Context{Prompt: prompt, Reply: reply})
	for len(ctx) > maxContext {
		ctx = ctx[1:]
	}
	h.context[userID] = ctx
}

// Ask returns a complete reply in one call
func (h *Helpline) Ask(ctx context.Context, userID, prompt string) (string, error) {
	resp, err := h.client.CreateChatCompletion(ctx, h.request(userID, prompt))
	if err != nil {
		return "", err
	}
	reply := resp.Choices[0].Message.Content
	h.remember(userID, prompt, reply)
	return reply, nil
}

// Stream writes reply tokens to w as they arrive and returns the full reply
func (h *Helpline) Stream(ctx context.Context, userID, prompt string, w io.Writer) (string, error) {
	stream, err := h.client.CreateChatCompletionStream(ctx, h.request(userID, prompt))
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reply.String(), err
		}
		token := resp.Choices[0].Delta.Content
		if len(token) == 0 {
			continue
		}
		reply.WriteString(token)
		if _, err := w.Write([]byte(token)); err != nil {
			return reply.String(), err
		}
	}

	h.remember(userID, prompt, reply.String())
	return reply.String(), nil
}

// ServeHTTP streams a reply as server-sent events:
// POST /chat with form fields userId and prompt
func (h *Helpline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "unsupported method "+r.Method, 400)
		return
	}

	userID := r.FormValue("userId")
	prompt := r.FormValue("prompt")
	if len(userID) == 0 || len(prompt) == 0 {
		http.Error(w, "userId and prompt required", 400)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", 500)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, err := h.Stream(r.Context(), userID, prompt, sseWriter{w, flusher})
	if err != nil {
		log.Printf("[chat] stream for %s: %v", userID, err)
		fmt.Fprintf(w, "event: error\ndata: reply failed\n\n")
		flusher.Flush()
		return
	}

	fmt.Fprintf(w, "event: done\ndata: \n\n")
	flusher.Flush()
}

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseWriter) Write(p []byte) (int, error) {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", p); err != nil {
		return 0, err
	}
	s.f.Flush()
	return len(p), nil
}

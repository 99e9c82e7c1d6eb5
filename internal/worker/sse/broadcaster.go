// Package sse streams thread activity to connected clients over
// Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// writeTimeout bounds a single client write so one stale connection cannot
// stall a broadcast.
const writeTimeout = 2 * time.Second

// Event is one item on the activity stream.
type Event struct {
	Type       string    `json:"type"`
	ThreadID   string    `json:"thread_id,omitempty"`
	ArticleURL string    `json:"article_url,omitempty"`
	Status     string    `json:"status,omitempty"`
	Score      int       `json:"score,omitempty"`
	Time       time.Time `json:"time"`
}

// Event types emitted by the ingest path.
const (
	EventThreadCreated   = "thread_created"
	EventArticleAttached = "article_attached"
	EventDuplicate       = "duplicate"
)

type client struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// Broadcaster fans events out to every connected client.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*client)}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to every connected client. Writes that fail or
// exceed the write timeout drop the client.
func (b *Broadcaster) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	dead := make(chan string, len(clients))
	for _, c := range clients {
		select {
		case <-c.done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			b.write(c, message, dead)
		}(c)
	}
	wg.Wait()
	close(dead)

	for id := range dead {
		b.drop(id)
	}
}

func (b *Broadcaster) write(c *client, message string, dead chan<- string) {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if _, err := c.w.Write([]byte(message)); err != nil {
			dead <- c.id
			return
		}
		c.flusher.Flush()
	}()

	select {
	case <-finished:
	case <-time.After(writeTimeout):
		log.Warn().Str("client", c.id).Msg("Event write timed out, dropping client")
		dead <- c.id
	case <-c.done:
	}
}

func (b *Broadcaster) add(w http.ResponseWriter) (*client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	c := &client{
		id:      fmt.Sprintf("client-%d", b.nextID),
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	total := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("client", c.id).Int("clients", total).Msg("Event client connected")
	return c, nil
}

func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if ok {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
		log.Debug().Str("client", id).Int("clients", total).Msg("Event client disconnected")
	}
}

// ServeHTTP implements the SSE endpoint: it registers the client and blocks
// until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c, err := b.add(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.drop(c.id)

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	c.flusher.Flush()

	<-r.Context().Done()
}

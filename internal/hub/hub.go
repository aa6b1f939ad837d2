package hub

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"RoastMedia/internal/auth"
	"RoastMedia/internal/event"
	"RoastMedia/internal/repo"
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// Hub admits authenticated connections into the registry, pumps inbound
// events through a worker pool into the chat handler, and tears everything
// down on shutdown.
type Hub struct {
	registry *Registry
	chat     *ChatHandler

	authenticator *auth.Authenticator
	users         repo.UserRepository

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	upgrader websocket.Upgrader

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(registry *Registry, chat *ChatHandler, authenticator *auth.Authenticator, users repo.UserRepository, allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:      registry,
		chat:          chat,
		authenticator: authenticator,
		users:         users,
		register:      make(chan *Client, 1024),
		unregister:    make(chan *Client, 1024),
		inbound:       make(chan inboundMessage, 4096), // buffer for burst handling
		ctx:           ctx,
		cancel:        cancel,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.chat.HandleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	first := h.registry.Add(c.UserID(), c)
	log.Printf("client %s added for user %s (first=%v)", c.ID(), c.UserID(), first)

	// Catch-up and presence run off the manager loop; the client's read
	// pump stays gated until the sweep has finished.
	go func() {
		h.chat.CatchUp(c)
		if first {
			h.chat.PresenceChanged(c.UserID(), true)
		}
		c.markReady()
	}()
}

func (h *Hub) removeClient(c *Client) {
	last := h.registry.Remove(c.UserID(), c.ID())
	c.Close()
	log.Printf("client %s removed for user %s (last=%v)", c.ID(), c.UserID(), last)

	if last {
		go h.chat.PresenceChanged(c.UserID(), false)
	}
}

// ServeWS authenticates the handshake and upgrades it to a registered
// client connection. Authentication failures reject the connection before
// registry admission.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	claims, err := h.authenticator.ValidateToken(token)
	if err != nil {
		log.Printf("rejected connection: %v", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if _, err := h.users.GetUser(claims.UserID); err != nil {
		log.Printf("rejected connection for unknown user %s: %v", claims.UserID, err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	RegisterClient(claims.UserID, conn, h)
}

func (h *Hub) Stop() {
	h.cancel()
	h.registry.CloseAll()
	close(h.inbound)
	h.wg.Wait()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// A websocket subscriber to one station's departure board.
type Client struct {
	ID        string
	StationID string
	Send      chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, stationID string, bufferSize int) *Client {
	return &Client{
		ID:        id,
		StationID: stationID,
		Send:      make(chan []byte, bufferSize),
	}
}

// Queues data without blocking. Returns false if the buffer is full
// or the client has been closed.
func (c *Client) TrySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Closes Send. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

type stationMessage struct {
	stationID string
	data      []byte
}

// Fans out board updates to the clients watching each station.
type Hub struct {
	mu             sync.RWMutex
	stationClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan stationMessage

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		stationClients: make(map[string]map[*Client]struct{}),
		register:       make(chan *Client, 16),
		unregister:     make(chan *Client, 16),
		broadcast:      make(chan stationMessage, 256),
		logger:         logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Queues data for every client watching stationID. Dropped if the
// hub is backed up.
func (h *Hub) Broadcast(stationID string, data []byte) {
	select {
	case h.broadcast <- stationMessage{stationID: stationID, data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping update", "station", stationID)
	}
}

// Stations with at least one client, sorted.
func (h *Hub) Stations() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stations := make([]string, 0, len(h.stationClients))
	for id := range h.stationClients {
		stations = append(stations, id)
	}
	sort.Strings(stations)
	return stations
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.stationClients {
		n += len(clients)
	}
	return n
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stationClients[client.StationID] == nil {
		h.stationClients[client.StationID] = make(map[*Client]struct{})
	}
	h.stationClients[client.StationID][client] = struct{}{}

	h.logger.Debug("client registered", "client_id", client.ID, "station", client.StationID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.stationClients[client.StationID]
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	if len(clients) == 0 {
		delete(h.stationClients, client.StationID)
	}
	client.Close()

	h.logger.Debug("client unregistered", "client_id", client.ID, "station", client.StationID)
}

func (h *Hub) fanout(msg stationMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.stationClients[msg.stationID] {
		if !client.TrySend(msg.data) {
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.stationClients {
		for client := range clients {
			client.Close()
		}
	}
	h.stationClients = make(map[string]map[*Client]struct{})
}

package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triptrack/internal/metrics"
	"triptrack/internal/model"
)

// Message is the socket envelope in both directions
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Connection is one authenticated socket
type Connection struct {
	ID       string
	Identity model.Identity
	Send     chan []byte
}

// NewConnection creates a connection with a fresh socket id
func NewConnection(identity model.Identity) *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		Identity: identity,
		Send:     make(chan []byte, 256),
	}
}

// outbound is a frame routed by the hub. To targets one connection; an
// empty To targets the TripID room minus Except. Close drops the room after
// every frame queued before it has been delivered.
type outbound struct {
	TripID string
	To     *Connection
	Except *Connection
	Data   []byte
	Close  bool
}

type roomJoin struct {
	conn   *Connection
	tripID string
}

// Hub owns every connection and room. All bookkeeping happens on the run
// goroutine; other goroutines talk to it through channels.
type Hub struct {
	conns map[*Connection]map[string]bool // connection -> rooms
	rooms map[string]map[*Connection]bool // tripID -> connections

	register   chan *Connection
	unregister chan *Connection
	join       chan roomJoin
	broadcast  chan *outbound
	done       chan struct{}
	stopOnce   sync.Once

	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewHub creates a new hub and starts its loop
func NewHub(m *metrics.Metrics, log *zap.Logger) *Hub {
	h := &Hub{
		conns:      make(map[*Connection]map[string]bool),
		rooms:      make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		join:       make(chan roomJoin),
		broadcast:  make(chan *outbound, 256),
		done:       make(chan struct{}),
		metrics:    m,
		log:        log,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for conn := range h.conns {
				close(conn.Send)
			}
			return

		case conn := <-h.register:
			h.conns[conn] = make(map[string]bool)
			h.metrics.SocketConnected()
			h.log.Debug("socket connected", zap.String("socket_id", conn.ID), zap.String("user_id", conn.Identity.ID))

		case conn := <-h.unregister:
			rooms, ok := h.conns[conn]
			if !ok {
				continue
			}
			for tripID := range rooms {
				h.leave(conn, tripID)
			}
			delete(h.conns, conn)
			close(conn.Send)
			h.metrics.SocketDisconnected()
			h.log.Debug("socket disconnected", zap.String("socket_id", conn.ID))

		case j := <-h.join:
			rooms, ok := h.conns[j.conn]
			if !ok {
				continue
			}
			rooms[j.tripID] = true
			if h.rooms[j.tripID] == nil {
				h.rooms[j.tripID] = make(map[*Connection]bool)
			}
			h.rooms[j.tripID][j.conn] = true

		case msg := <-h.broadcast:
			if msg.Close {
				for conn := range h.rooms[msg.TripID] {
					delete(h.conns[conn], msg.TripID)
				}
				delete(h.rooms, msg.TripID)
				continue
			}
			if msg.To != nil {
				if _, ok := h.conns[msg.To]; ok {
					h.deliver(msg.To, msg.Data)
				}
				continue
			}
			for conn := range h.rooms[msg.TripID] {
				if conn != msg.Except {
					h.deliver(conn, msg.Data)
				}
			}
		}
	}
}

func (h *Hub) leave(conn *Connection, tripID string) {
	members := h.rooms[tripID]
	delete(members, conn)
	if len(members) == 0 {
		delete(h.rooms, tripID)
	}
}

// deliver drops the frame when the connection's buffer is full
func (h *Hub) deliver(conn *Connection, data []byte) {
	select {
	case conn.Send <- data:
	default:
		h.log.Warn("socket send buffer full, dropping frame", zap.String("socket_id", conn.ID))
	}
}

func (h *Hub) send(ch chan *Connection, conn *Connection) {
	select {
	case ch <- conn:
	case <-h.done:
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.send(h.register, conn)
}

// Unregister removes a connection from the hub and all its rooms
func (h *Hub) Unregister(conn *Connection) {
	h.send(h.unregister, conn)
}

// JoinRoom subscribes conn to the trip room
func (h *Hub) JoinRoom(conn *Connection, tripID string) {
	select {
	case h.join <- roomJoin{conn: conn, tripID: tripID}:
	case <-h.done:
	}
}

// Emit sends an event to one connection
func (h *Hub) Emit(conn *Connection, event string, payload interface{}) {
	h.enqueue(&outbound{To: conn}, event, payload)
}

// ToRoom sends an event to every connection in the trip room except one
// (nil excludes nobody)
func (h *Hub) ToRoom(tripID string, except *Connection, event string, payload interface{}) {
	h.enqueue(&outbound{TripID: tripID, Except: except}, event, payload)
}

// BroadcastToTrip sends an event to the whole trip room (implements service.Broadcaster)
func (h *Hub) BroadcastToTrip(tripID, event string, payload interface{}) {
	h.ToRoom(tripID, nil, event, payload)
}

// CloseTrip drops the trip room (implements service.Broadcaster)
func (h *Hub) CloseTrip(tripID string) {
	select {
	case h.broadcast <- &outbound{TripID: tripID, Close: true}:
	case <-h.done:
	}
}

// Stop ends the hub loop and closes every connection's send channel
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) enqueue(msg *outbound, event string, payload interface{}) {
	data, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode socket frame", zap.String("event", event), zap.Error(err))
		return
	}
	msg.Data = data
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func encode(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Event: event, Payload: raw})
}

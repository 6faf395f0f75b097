package uiproto

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/synthpod/synthpod/internal/ring"
	"github.com/synthpod/synthpod/internal/urid"
)

// Hub fans engine notifications out to every connected out-of-process
// controller and feeds controller requests back onto the UI→RT ring,
// hub-and-spoke: one actor goroutine owns the session map, each session gets
// its own read/write pump, and a slow client is dropped rather than
// allowed to stall the hub.
type Hub struct {
	regs *urid.Regs
	reg  *urid.Registry
	toRT *ring.Ring

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session

	broadcast  chan Message
	register   chan *Session
	unregister chan *Session
}

// NewHub creates a Hub that broadcasts onto toRT any Message a
// controller sends inbound (PatchSet, ModuleAdd, and so on), and fans
// out any Message passed to Broadcast to every connected controller.
func NewHub(regs *urid.Regs, reg *urid.Registry, toRT *ring.Ring) *Hub {
	h := &Hub{
		regs: regs,
		reg:  reg,
		toRT: toRT,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions:   make(map[string]*Session),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Session),
		unregister: make(chan *Session),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s.id] = s
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s.id]; ok {
				delete(h.sessions, s.id)
				close(s.send)
			}
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for id, s := range h.sessions {
				select {
				case s.send <- m:
				default:
					close(s.send)
					delete(h.sessions, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues m for delivery to every connected controller. It
// never blocks: if the hub's own buffer is full the notification is
// dropped, matching the ring's own drop-rather-than-block contract.
func (h *Hub) Broadcast(m Message) {
	select {
	case h.broadcast <- m:
	default:
	}
}

// Sessions reports the number of connected controllers.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

var sessionSeq atomic.Int64

// ServeHTTP upgrades the request to a WebSocket and runs the new
// session's read/write pumps until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &Session{
		id:   "ui-" + itoaHub(int(sessionSeq.Add(1))),
		conn: conn,
		send: make(chan Message, 64),
		hub:  h,
	}

	h.register <- s
	go s.writePump()
	go s.readPump()
}

func itoaHub(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Session is one connected controller's WebSocket connection.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan Message
	hub  *Hub
}

// wireMessage is the JSON shape a controller sees, the verb rendered
// as its URI string rather than this package's internal enum ordinal
// so the wire format does not depend on build-specific numbering.
type wireMessage struct {
	Verb string `json:"verb"`

	ModuleURN  uint32  `json:"moduleUrn,omitempty"`
	PluginURI  string  `json:"pluginUri,omitempty"`
	PortSymbol uint32  `json:"portSymbol,omitempty"`
	X          float32 `json:"x,omitempty"`
	Y          float32 `json:"y,omitempty"`
	Alias      string  `json:"alias,omitempty"`
	Enabled    bool    `json:"enabled,omitempty"`

	ProfileMinNs float64 `json:"profileMinNs,omitempty"`
	ProfileAvgNs float64 `json:"profileAvgNs,omitempty"`
	ProfileMaxNs float64 `json:"profileMaxNs,omitempty"`

	SinkModule   uint32  `json:"sinkModule,omitempty"`
	SinkSymbol   uint32  `json:"sinkSymbol,omitempty"`
	SourceModule uint32  `json:"sourceModule,omitempty"`
	SourceSymbol uint32  `json:"sourceSymbol,omitempty"`
	Gain         float32 `json:"gain,omitempty"`

	Path string `json:"path,omitempty"`

	NotificationValue   float32 `json:"notificationValue,omitempty"`
	NotificationPeakMin float32 `json:"notificationPeakMin,omitempty"`
	NotificationPeakMax float32 `json:"notificationPeakMax,omitempty"`
	NotificationAtom    []byte  `json:"notificationAtom,omitempty"`

	IntValue  int32 `json:"intValue,omitempty"`
	BoolValue bool  `json:"boolValue,omitempty"`

	AutoKind   int32   `json:"autoKind,omitempty"`
	Channel    int32   `json:"channel,omitempty"`
	Controller int32   `json:"controller,omitempty"`
	SrcMin     float64 `json:"srcMin,omitempty"`
	SrcMax     float64 `json:"srcMax,omitempty"`
	SnkMin     float64 `json:"snkMin,omitempty"`
	SnkMax     float64 `json:"snkMax,omitempty"`
	SrcEnabled bool    `json:"srcEnabled,omitempty"`
	SnkEnabled bool    `json:"snkEnabled,omitempty"`
	Learning   bool    `json:"learning,omitempty"`
}

func toWire(regs *urid.Regs, m Message, reg *urid.Registry) wireMessage {
	verbStr := ""
	if id := verbURI(regs, m.Verb); id != 0 {
		if uri, ok := reg.Unmap(id); ok {
			verbStr = uri
		}
	}
	return wireMessage{
		Verb: verbStr, ModuleURN: uint32(m.ModuleURN), PluginURI: m.PluginURI,
		PortSymbol: uint32(m.PortSymbol), X: m.X, Y: m.Y, Alias: m.Alias, Enabled: m.Enabled,
		ProfileMinNs: m.ProfileMinNs, ProfileAvgNs: m.ProfileAvgNs, ProfileMaxNs: m.ProfileMaxNs,
		SinkModule: uint32(m.SinkModule), SinkSymbol: uint32(m.SinkSymbol),
		SourceModule: uint32(m.SourceModule), SourceSymbol: uint32(m.SourceSymbol), Gain: m.Gain,
		Path: m.Path,
		NotificationValue: m.NotificationValue, NotificationPeakMin: m.NotificationPeakMin,
		NotificationPeakMax: m.NotificationPeakMax, NotificationAtom: m.NotificationAtom,
		IntValue: m.IntValue, BoolValue: m.BoolValue,
		AutoKind: m.AutoKind, Channel: m.Channel, Controller: m.Controller,
		SrcMin: m.SrcMin, SrcMax: m.SrcMax, SnkMin: m.SnkMin, SnkMax: m.SnkMax,
		SrcEnabled: m.SrcEnabled, SnkEnabled: m.SnkEnabled, Learning: m.Learning,
	}
}

func fromWire(regs *urid.Regs, reg *urid.Registry, w wireMessage) Message {
	verb := VerbUnknown
	if w.Verb != "" {
		verb = verbFromURI(regs, reg.Map(w.Verb))
	}
	return Message{
		Verb: verb, ModuleURN: urid.ID(w.ModuleURN), PluginURI: w.PluginURI,
		PortSymbol: urid.ID(w.PortSymbol), X: w.X, Y: w.Y, Alias: w.Alias, Enabled: w.Enabled,
		ProfileMinNs: w.ProfileMinNs, ProfileAvgNs: w.ProfileAvgNs, ProfileMaxNs: w.ProfileMaxNs,
		SinkModule: urid.ID(w.SinkModule), SinkSymbol: urid.ID(w.SinkSymbol),
		SourceModule: urid.ID(w.SourceModule), SourceSymbol: urid.ID(w.SourceSymbol), Gain: w.Gain,
		Path: w.Path,
		NotificationValue: w.NotificationValue, NotificationPeakMin: w.NotificationPeakMin,
		NotificationPeakMax: w.NotificationPeakMax, NotificationAtom: w.NotificationAtom,
		IntValue: w.IntValue, BoolValue: w.BoolValue,
		AutoKind: w.AutoKind, Channel: w.Channel, Controller: w.Controller,
		SrcMin: w.SrcMin, SrcMax: w.SrcMax, SnkMin: w.SnkMin, SnkMax: w.SnkMax,
		SrcEnabled: w.SrcEnabled, SnkEnabled: w.SnkEnabled, Learning: w.Learning,
	}
}

func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var w wireMessage
		if err := json.Unmarshal(data, &w); err != nil {
			continue
		}
		m := fromWire(s.hub.regs, s.hub.reg, w)
		typ, payload := Encode(s.hub.regs, m)
		s.hub.toRT.Write(typ, payload)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case m, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(toWire(s.hub.regs, m, s.hub.reg))
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}


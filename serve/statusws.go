package serve

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"motioncam/control"
	"motioncam/motion"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second
)

// Status is the state pushed to status clients.
type Status struct {
	State     motion.State `json:"state"`
	Capturing bool         `json:"capturing"`
	Saving    bool         `json:"saving"`
}

// StatusUpdater tracks the detection state and control flags and pushes
// every change to connected websocket clients. It is registered as a
// listener with both the motion handler and the control state.
type StatusUpdater struct {
	upgrader websocket.Upgrader

	l       sync.Mutex
	current Status
	clients map[chan Status]bool
}

func NewStatusUpdater(initial Status) *StatusUpdater {
	return &StatusUpdater{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		current: initial,
		clients: make(map[chan Status]bool),
	}
}

// StateChanged implements motion.Listener.
func (m *StatusUpdater) StateChanged(s motion.State) {
	m.update(func(st *Status) { st.State = s })
}

// FlagsChanged implements control.Listener.
func (m *StatusUpdater) FlagsChanged(f control.Flags) {
	m.update(func(st *Status) {
		st.Capturing = f.Capturing
		st.Saving = f.Saving
	})
}

// Status returns the latest status.
func (m *StatusUpdater) Status() Status {
	m.l.Lock()
	defer m.l.Unlock()
	return m.current
}

func (m *StatusUpdater) update(fn func(*Status)) {
	m.l.Lock()
	defer m.l.Unlock()
	fn(&m.current)
	for c := range m.clients {
		// Slow clients only get the latest status.
		select {
		case <-c:
		default:
		}
		c <- m.current
	}
}

func (m *StatusUpdater) subscribe() chan Status {
	m.l.Lock()
	defer m.l.Unlock()
	c := make(chan Status, 1)
	c <- m.current
	m.clients[c] = true
	return c
}

func (m *StatusUpdater) unsubscribe(c chan Status) {
	m.l.Lock()
	defer m.l.Unlock()
	delete(m.clients, c)
}

func (m *StatusUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for status stream: %v", err)
		}
		return
	}
	m.serve(r, ws)
}

func (m *StatusUpdater) serve(r *http.Request, ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to status socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from status socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	updates := m.subscribe()
	defer m.unsubscribe(updates)

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case st := <-updates:
			js, err := json.Marshal(st)
			if err != nil {
				clog.Errorf("Failed to encode status: %v", err)
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, js); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

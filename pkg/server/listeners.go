package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/broadcast"
)

const (
	listenerBuffer = 8
	writeTimeout   = 2 * time.Second
)

var _ broadcast.Broadcaster = &Listeners{}

// Listeners keeps the WebSocket clients that receive tank broadcasts.
type Listeners struct {
	mu       sync.Mutex
	clients  map[*listener]struct{}
	upgrader websocket.Upgrader

	// OnChange, if set, is called with the listener count after it
	// changes.
	OnChange func(n int)
}

type listener struct {
	conn *websocket.Conn
	addr string
	send chan string

	once sync.Once
	done chan struct{}
}

func (l *listener) kill() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func (l *listener) dead() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func NewListeners() *Listeners {
	return &Listeners{
		clients: make(map[*listener]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The device UI is served from the same host under whatever
			// address the client used to reach it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and blocks until the client goes away.
func (ls *Listeners) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := ls.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	l := &listener{
		conn: conn,
		addr: r.RemoteAddr,
		send: make(chan string, listenerBuffer),
		done: make(chan struct{}),
	}
	ls.mu.Lock()
	ls.clients[l] = struct{}{}
	n := len(ls.clients)
	ls.mu.Unlock()
	ls.changed(n)

	logrus.WithFields(logrus.Fields{
		"client":    l.addr,
		"listeners": n,
	}).Info("websocket client connected")

	go ls.writeLoop(l)

	// Clients only listen. Reading keeps control frames flowing and tells
	// us when the connection drops.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	l.kill()

	logrus.WithField("client", l.addr).Info("websocket client disconnected")
	return nil
}

func (ls *Listeners) writeLoop(l *listener) {
	for {
		select {
		case msg, ok := <-l.send:
			if !ok {
				return
			}
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				logrus.WithError(err).WithField("client", l.addr).Debug("websocket write failed")
				l.kill()
				return
			}
		case <-l.done:
			return
		}
	}
}

// BroadcastText queues msg for every live client. A client whose queue is
// full misses the message.
func (ls *Listeners) BroadcastText(msg string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for l := range ls.clients {
		if l.dead() {
			continue
		}
		select {
		case l.send <- msg:
		default:
			logrus.WithField("client", l.addr).Trace("websocket client too slow, message dropped")
		}
	}
}

// Cleanup forgets clients whose connection is gone and returns how many
// were removed.
func (ls *Listeners) Cleanup() int {
	ls.mu.Lock()
	removed := 0
	for l := range ls.clients {
		if l.dead() {
			delete(ls.clients, l)
			close(l.send)
			removed++
		}
	}
	n := len(ls.clients)
	ls.mu.Unlock()

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"removed":   removed,
			"listeners": n,
		}).Debug("cleaned up websocket clients")
		ls.changed(n)
	}
	return removed
}

// CloseAll disconnects every client.
func (ls *Listeners) CloseAll() {
	ls.mu.Lock()
	clients := ls.clients
	ls.clients = make(map[*listener]struct{})
	ls.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "network mode changing")
	for l := range clients {
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		l.kill()
	}

	if len(clients) > 0 {
		logrus.WithField("count", len(clients)).Info("closed websocket clients")
		ls.changed(0)
	}
}

// Len returns the number of tracked clients, live or not yet cleaned up.
func (ls *Listeners) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.clients)
}

func (ls *Listeners) changed(n int) {
	if ls.OnChange != nil {
		ls.OnChange(n)
	}
}

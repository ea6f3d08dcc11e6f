// Package relay fans conversation updates out to websocket clients.
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 5 * time.Second
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	conn wsConn
	send chan []byte
	done chan struct{}
}

// Pool holds the connected clients. Every client has its own writer
// goroutine; a client whose queue is full is dropped instead of slowing
// everyone else down.
type Pool struct {
	mu           sync.Mutex
	clients      map[wsConn]*client
	sendBuffer   int
	writeTimeout time.Duration
}

func NewPool() *Pool {
	return &Pool{
		clients:      map[wsConn]*client{},
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
	}
}

func (p *Pool) Add(conn wsConn) {
	if conn == nil {
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, p.sendBuffer),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	p.clients[conn] = c
	p.mu.Unlock()
	go p.writeLoop(c)
}

func (p *Pool) Remove(conn wsConn) {
	p.mu.Lock()
	c, ok := p.clients[conn]
	if ok {
		delete(p.clients, conn)
	}
	p.mu.Unlock()
	if ok {
		close(c.done)
	}
	_ = conn.Close()
}

func (p *Pool) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	var dropped []wsConn
	p.mu.Lock()
	for conn, c := range p.clients {
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, conn)
		}
	}
	p.mu.Unlock()
	for _, conn := range dropped {
		log.Warn().Str("component", "relay").Msg("client send queue full, dropping connection")
		p.Remove(conn)
	}
}

// Publish broadcasts u as JSON. It fits updates.HandlerFunc.
func (p *Pool) Publish(u stream.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshaling update")
	}
	p.Broadcast(b)
	return nil
}

func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := make([]wsConn, 0, len(p.clients))
	for conn := range p.clients {
		conns = append(conns, conn)
	}
	p.mu.Unlock()
	for _, conn := range conns {
		p.Remove(conn)
	}
}

func (p *Pool) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if p.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "relay").Msg("ws write failed, dropping connection")
				p.Remove(c.conn)
				return
			}
		}
	}
}

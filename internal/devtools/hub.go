package devtools

import (
	"sync/atomic"

	"fluxstore/pkg/store"
)

// Event is sent to every connected client after a dispatch commits.
type Event struct {
	Version uint64         `json:"version"`
	State   map[string]any `json:"state"`
}

// Client is one connected websocket consumer.
type Client struct {
	ID   uint64
	Addr string
	Send chan Event // closed when the client leaves or the hub stops
}

type joinReq struct {
	addr   string
	result chan *Client
}

// clientBuffer is how many events a slow client may fall behind before
// events are dropped for it.
const clientBuffer = 16

var clientCounter atomic.Uint64

// Hub fans snapshot events out to clients. A single goroutine owns the
// client set; all operations go through channels.
type Hub struct {
	join    chan joinReq
	leave   chan *Client
	publish chan Event
	count   chan chan int
	stop    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

// NewHub creates a hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		join:    make(chan joinReq),
		leave:   make(chan *Client),
		publish: make(chan Event, 64),
		count:   make(chan chan int),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run is the hub's main loop. It blocks until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	clients := make(map[uint64]*Client)

	for {
		select {
		case req := <-h.join:
			c := &Client{
				ID:   clientCounter.Add(1),
				Addr: req.addr,
				Send: make(chan Event, clientBuffer),
			}
			clients[c.ID] = c
			req.result <- c
			logger.Debug("devtools client joined", "client", c.ID, "addr", c.Addr)

		case c := <-h.leave:
			if _, ok := clients[c.ID]; ok {
				delete(clients, c.ID)
				close(c.Send)
				logger.Debug("devtools client left", "client", c.ID)
			}

		case ev := <-h.publish:
			for _, c := range clients {
				select {
				case c.Send <- ev:
				default:
					logger.Debug("dropping event for slow client", "client", c.ID, "version", ev.Version)
				}
			}

		case res := <-h.count:
			res <- len(clients)

		case <-h.stop:
			for _, c := range clients {
				close(c.Send)
			}
			return
		}
	}
}

// Stop shuts the hub down and closes every client's Send channel.
func (h *Hub) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.stop)
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Join registers a client. It returns nil once the hub is stopped.
func (h *Hub) Join(addr string) *Client {
	result := make(chan *Client, 1)
	select {
	case h.join <- joinReq{addr: addr, result: result}:
		return <-result
	case <-h.stop:
		return nil
	}
}

// Leave removes a client.
func (h *Hub) Leave(c *Client) {
	select {
	case h.leave <- c:
	case <-h.stop:
	}
}

// Publish queues ev for every client.
func (h *Hub) Publish(ev Event) {
	select {
	case h.publish <- ev:
	case <-h.stop:
	}
}

// Clients returns the number of connected clients, or 0 once stopped.
func (h *Hub) Clients() int {
	res := make(chan int, 1)
	select {
	case h.count <- res:
		return <-res
	case <-h.stop:
		return 0
	}
}

// Attach publishes an Event after every dispatch on s.
func (h *Hub) Attach(s *store.Store) (detach func()) {
	return s.Subscribe(func() {
		sn := s.State()
		h.Publish(Event{Version: sn.Version(), State: sn.Map()})
	})
}

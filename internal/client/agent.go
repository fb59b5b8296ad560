package client

import (
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dmchat/internal/server"
)

const defaultRetryDelay = 5 * time.Second

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// TokenProvider supplies the current session credential, or reports that none
// is available.
type TokenProvider func() (string, bool)

// Handler receives each decoded event from the stream.
type Handler func(server.ServerEvent)

// Agent maintains the one-directional event channel to the server. It dials,
// decodes events into the handler and, when the transport fails, resets and
// reconnects after a fixed delay for as long as a credential remains
// available. It never surfaces per-event errors to its consumer: a gap in
// the stream means state may be stale and should be reconciled by fetching.
type Agent struct {
	log     *log.Logger
	url     string
	token   TokenProvider
	handler Handler
	dialer  *websocket.Dialer
	// retryDelay is overridable in tests
	retryDelay time.Duration

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewAgent creates an agent for the given stream URL (ws:// or wss://).
func NewAgent(logger *log.Logger, streamUrl string, token TokenProvider, handler Handler) *Agent {
	return &Agent{
		log:        logger,
		url:        streamUrl,
		token:      token,
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		retryDelay: defaultRetryDelay,
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Start launches the agent. Without a credential the agent stays idle.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.run()
}

// Stop closes the channel and terminates the agent. It blocks until the run
// loop has exited.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.stop)
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()

	<-a.done
}

func (a *Agent) run() {
	defer close(a.done)

	if _, ok := a.token(); !ok {
		// no credential, nothing to do
		a.setState(Idle)
		return
	}

	for {
		token, ok := a.token()
		if !ok {
			// credential revoked while down: stop retrying
			a.setState(Errored)
			return
		}

		if !a.connectAndConsume(token) {
			return
		}

		a.setState(Errored)

		select {
		case <-time.After(a.retryDelay):
		case <-a.stop:
			return
		}
	}
}

// connectAndConsume dials the stream and pumps events until the transport
// fails. It returns false when the agent was stopped.
func (a *Agent) connectAndConsume(token string) bool {
	a.setState(Connecting)

	conn, resp, err := a.dialer.Dial(a.streamUrl(token), nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		a.log.Println("dial stream:", err)
		return !a.stopped()
	}

	if a.stopped() {
		conn.Close()
		return false
	}

	a.mu.Lock()
	a.conn = conn
	a.state = Connected
	a.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			a.mu.Lock()
			a.conn = nil
			a.mu.Unlock()

			if a.stopped() {
				return false
			}

			a.log.Println("stream read:", err)
			return true
		}

		var ev server.ServerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			// a malformed event is not fatal, state is a continuous
			// stream and the next event stands on its own
			a.log.Println("decode event:", err)
			continue
		}

		if a.handler != nil {
			a.handler(ev)
		}
	}
}

func (a *Agent) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

func (a *Agent) streamUrl(token string) string {
	u, err := url.Parse(a.url)
	if err != nil {
		return a.url
	}

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String()
}

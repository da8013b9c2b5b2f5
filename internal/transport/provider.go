// Package transport keeps a replicated document and its presence in sync
// with a room over one socket.
//
// A Provider dials the room, reconnects with exponential backoff when the
// socket drops, and mirrors every frame onto an in-process broadcast
// channel so providers for the same room in one process also see each
// other's updates.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gihan9a/roomsync/internal/awareness"
	"gihan9a/roomsync/internal/broadcast"
	"gihan9a/roomsync/internal/clock"
	"gihan9a/roomsync/internal/observable"
	"gihan9a/roomsync/internal/replica"
	"gihan9a/roomsync/pkg/syncproto"
)

var (
	// ErrPermissionDenied is returned by Connect when the room rejects the
	// credentials.
	ErrPermissionDenied = errors.New("transport: permission denied")
	ErrDestroyed        = errors.New("transport: provider destroyed")
	// ErrDisconnected is returned by a pending Connect when Disconnect is
	// called before the socket opened.
	ErrDisconnected = errors.New("transport: disconnected")
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Doc is the replicated document a provider synchronizes.
type Doc interface {
	syncproto.Document
	ClientID() replica.ClientID
	OnUpdate(fn replica.UpdateFunc) (unsubscribe func())
}

// Listener observes a provider. Any field may be nil.
type Listener struct {
	OnStatus           func(Status)
	OnSynced           func(synced bool)
	OnConnectionError  func(err error)
	OnConnectionClose  func(err error)
	OnPermissionDenied func(reason string)
}

type Options struct {
	Dialer Dialer
	// Awareness defaults to a new directory for the document's client.
	Awareness *awareness.Awareness
	// Bus defaults to broadcast.Default().
	Bus              *broadcast.Bus
	DisableBroadcast bool
	// ResyncInterval, when positive, re-sends sync step 1 periodically.
	ResyncInterval time.Duration
	// MaxBackoff defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration
	Params     url.Values
	Clock      clock.Clock
	Logger     *zap.Logger
}

type handler func(enc *syncproto.Encoder, dec *syncproto.Decoder, emitSynced bool) error

type Provider struct {
	endpoint  string
	room      string
	channel   string
	id        string
	doc       Doc
	awareness *awareness.Awareness
	ownsAware bool
	dialer    Dialer
	bus       *broadcast.Bus
	opts      Options
	clock     clock.Clock
	logger    *zap.Logger
	handlers  map[syncproto.MessageKind]handler
	listeners *observable.Registry[Listener]

	mu             sync.Mutex
	shouldConnect  bool
	conn           Conn
	connecting     bool
	connected      bool
	synced         bool
	failures       int
	generation     uint64
	lastMessage    time.Time
	reconnectTimer *clock.Timer
	cancelDial     context.CancelFunc
	waiters        []chan error
	destroyed      bool
	bcUnsubscribe  func()

	unsubscribeDoc       func()
	unsubscribeAwareness func()
	stop                 chan struct{}
	done                 chan struct{}
}

// NewProvider prepares a provider for room at endpoint and joins the
// broadcast channel. Nothing is dialed until Connect.
func NewProvider(endpoint, room string, doc Doc, opts Options) *Provider {
	endpoint = strings.TrimRight(endpoint, "/")
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = broadcast.Default()
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	ownsAwareness := opts.Awareness == nil
	if ownsAwareness {
		opts.Awareness = awareness.New(doc.ClientID(), opts.Clock, opts.Logger)
	}

	p := &Provider{
		endpoint:  endpoint,
		room:      room,
		channel:   broadcast.ChannelName(endpoint, room),
		id:        uuid.NewString(),
		doc:       doc,
		awareness: opts.Awareness,
		ownsAware: ownsAwareness,
		dialer:    opts.Dialer,
		bus:       opts.Bus,
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger.With(zap.String("room", room)),
		listeners: observable.New[Listener](opts.Logger),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.handlers = map[syncproto.MessageKind]handler{
		syncproto.MessageSync:           p.handleSync,
		syncproto.MessageAwarenessQuery: p.handleAwarenessQuery,
		syncproto.MessageAwareness:      p.handleAwareness,
		syncproto.MessageAuth:           p.handleAuth,
	}

	p.connectBroadcastLocked()
	p.unsubscribeDoc = doc.OnUpdate(p.onDocUpdate)
	p.unsubscribeAwareness = p.awareness.OnUpdate(p.onAwarenessUpdate)
	go p.maintain()
	return p
}

func (p *Provider) Room() string { return p.room }

func (p *Provider) Doc() Doc { return p.doc }

func (p *Provider) Awareness() *awareness.Awareness { return p.awareness }

// BroadcastChannel is the bus channel shared with same-room providers.
func (p *Provider) BroadcastChannel() string { return p.channel }

// BroadcastID tags the frames this provider publishes on the bus.
func (p *Provider) BroadcastID() string { return p.id }

func (p *Provider) AddListener(l Listener) (remove func()) { return p.listeners.Register(l) }

// URL is the socket address dialed for the room.
func (p *Provider) URL() string {
	u := p.endpoint + "/" + p.room
	if len(p.opts.Params) > 0 {
		u += "?" + p.opts.Params.Encode()
	}
	return u
}

func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Connect starts connecting and blocks until the socket is open. Socket
// failures do not end the wait; the provider keeps retrying. Connect
// returns early when ctx ends, when the room denies access, or when the
// provider is disconnected or destroyed.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	p.shouldConnect = true
	p.connectBroadcastLocked()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	wait := make(chan error, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	p.setup()

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters = slices.DeleteFunc(p.waiters, func(w chan error) bool { return w == wait })
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Disconnect closes the socket and stops reconnecting. A pending backoff
// is cancelled.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	p.shouldConnect = false
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	if p.conn == nil && p.connecting {
		// Abandon the dial in flight; its outcome is ignored.
		p.generation++
		p.connecting = false
		if p.cancelDial != nil {
			p.cancelDial()
			p.cancelDial = nil
		}
	}
	conn := p.conn
	if p.bcUnsubscribe != nil {
		p.bcUnsubscribe()
		p.bcUnsubscribe = nil
	}
	p.resolveLocked(ErrDisconnected)
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Destroy announces that the local client left, then disconnects and
// releases every timer and subscription. The provider cannot be reused.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	// Still subscribed: the removal goes out on the socket and the bus.
	p.awareness.RemoveStates([]replica.ClientID{p.doc.ClientID()}, "destroy")
	p.unsubscribeDoc()
	p.unsubscribeAwareness()

	p.Disconnect()
	if p.ownsAware {
		p.awareness.Destroy()
	}

	p.mu.Lock()
	p.resolveLocked(ErrDestroyed)
	p.mu.Unlock()
}

func (p *Provider) connectBroadcastLocked() {
	if p.opts.DisableBroadcast || p.bcUnsubscribe != nil {
		return
	}
	p.bcUnsubscribe = p.bus.Subscribe(p.channel, p.onBroadcast)
}

// resolveLocked wakes every pending Connect with err.
func (p *Provider) resolveLocked(err error) {
	for _, w := range p.waiters {
		w <- err
	}
	p.waiters = nil
}

// setup dials a new socket unless one is open or being opened.
func (p *Provider) setup() {
	p.mu.Lock()
	if !p.shouldConnect || p.destroyed || p.conn != nil || p.connecting {
		p.mu.Unlock()
		return
	}
	p.reconnectTimer = nil
	p.generation++
	gen := p.generation
	p.connecting = true
	p.connected = false
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelDial = cancel
	p.mu.Unlock()

	p.setSynced(false)
	p.emitStatus(StatusConnecting)
	go p.run(ctx, gen)
}

func (p *Provider) run(ctx context.Context, gen uint64) {
	conn, err := p.dialer.DialContext(ctx, p.URL())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.emit("connection-error", func(l Listener) {
			if l.OnConnectionError != nil {
				l.OnConnectionError(err)
			}
		})
		if errors.Is(err, ErrPermissionDenied) {
			p.permissionDenied(err.Error())
		}
		p.handleClose(gen, err)
		return
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		conn.Close()
		return
	}
	if !p.shouldConnect {
		p.connecting = false
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.conn = conn
	p.mu.Unlock()

	p.onOpen(gen, conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			p.handleClose(gen, err)
			return
		}
		p.onMessage(conn, data)
	}
}

func (p *Provider) onOpen(gen uint64, conn Conn) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.connecting = false
	p.connected = true
	p.failures = 0
	p.lastMessage = p.clock.Now()
	p.resolveLocked(nil)
	p.mu.Unlock()

	p.logger.Debug("connected", zap.String("url", p.URL()))
	p.emitStatus(StatusConnected)

	p.write(conn, syncproto.SyncStep1Frame(p.doc))
	if p.awareness.GetLocalState() != nil {
		update, err := p.awareness.EncodeUpdate([]replica.ClientID{p.doc.ClientID()})
		if err != nil {
			p.logger.Error("encode presence", zap.Error(err))
			return
		}
		p.write(conn, syncproto.AwarenessFrame(update))
	}
}

func (p *Provider) onMessage(conn Conn, data []byte) {
	p.mu.Lock()
	p.lastMessage = p.clock.Now()
	p.mu.Unlock()

	reply := p.readMessage(data, true)
	if reply.Len() > 1 {
		p.write(conn, reply.Bytes())
	}
}

// handleClose tears down socket generation gen. A socket that had reached
// the connected state drops every remote presence entry before the
// disconnected status is reported; one that never did counts as a failed
// attempt. Either way a reconnect is scheduled while connecting is wanted.
func (p *Provider) handleClose(gen uint64, cause error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.connecting = false
	if p.cancelDial != nil {
		p.cancelDial()
		p.cancelDial = nil
	}
	wasConnected := p.connected
	p.connected = false
	if !wasConnected {
		p.failures++
	}
	if p.shouldConnect && !p.destroyed {
		delay := BackoffDelay(p.failures, p.opts.MaxBackoff)
		p.logger.Debug("reconnect scheduled", zap.Duration("delay", delay), zap.Int("failures", p.failures))
		p.reconnectTimer = p.clock.AfterFunc(delay, p.setup)
	}
	p.mu.Unlock()

	p.emit("connection-close", func(l Listener) {
		if l.OnConnectionClose != nil {
			l.OnConnectionClose(cause)
		}
	})
	if wasConnected {
		p.awareness.RemoveStates(p.awareness.RemoteClients(), p)
		p.setSynced(false)
		p.emitStatus(StatusDisconnected)
	}
}

// permissionDenied stops reconnecting, fails pending Connect calls and
// closes the socket.
func (p *Provider) permissionDenied(reason string) {
	p.mu.Lock()
	p.shouldConnect = false
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	conn := p.conn
	p.resolveLocked(fmt.Errorf("%w: %s", ErrPermissionDenied, reason))
	p.mu.Unlock()

	p.logger.Warn("permission denied", zap.String("url", p.URL()), zap.String("reason", reason))
	p.emit("permission-denied", func(l Listener) {
		if l.OnPermissionDenied != nil {
			l.OnPermissionDenied(reason)
		}
	})
	if conn != nil {
		conn.Close()
	}
}

// broadcastMessage sends data on the open socket and the bus.
func (p *Provider) broadcastMessage(data []byte) {
	p.mu.Lock()
	conn := p.conn
	connected := p.connected
	bc := p.bcUnsubscribe != nil
	p.mu.Unlock()

	if connected && conn != nil {
		p.write(conn, data)
	}
	if bc {
		p.bus.Publish(p.channel, data, p.id)
	}
}

func (p *Provider) write(conn Conn, data []byte) {
	if err := conn.WriteMessage(data); err != nil {
		p.logger.Debug("write failed", zap.Error(err))
		p.emit("connection-error", func(l Listener) {
			if l.OnConnectionError != nil {
				l.OnConnectionError(err)
			}
		})
	}
}

func (p *Provider) onBroadcast(data []byte, origin string) {
	if origin == p.id {
		return
	}
	reply := p.readMessage(data, false)
	if reply.Len() > 1 && p.Connected() {
		p.broadcastMessage(reply.Bytes())
	}
}

func (p *Provider) onDocUpdate(update []byte, origin any) {
	if o, ok := origin.(*Provider); ok && o == p {
		return
	}
	p.broadcastMessage(syncproto.UpdateFrame(update))
}

func (p *Provider) onAwarenessUpdate(change awareness.Change, origin any) {
	if o, ok := origin.(*Provider); ok && o == p {
		return
	}
	update, err := p.awareness.EncodeUpdate(change.All())
	if err != nil {
		p.logger.Error("encode presence", zap.Error(err))
		return
	}
	p.broadcastMessage(syncproto.AwarenessFrame(update))
}

// maintain runs the resync ticker and closes sockets that went silent.
func (p *Provider) maintain() {
	defer close(p.done)

	check := p.clock.NewTicker(messageReconnectTimeout / 10)
	defer check.Stop()

	var resync <-chan time.Time
	if p.opts.ResyncInterval > 0 {
		ticker := p.clock.NewTicker(p.opts.ResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-p.stop:
			return
		case <-resync:
			p.mu.Lock()
			conn, connected := p.conn, p.connected
			p.mu.Unlock()
			if connected && conn != nil {
				p.write(conn, syncproto.SyncStep1Frame(p.doc))
			}
		case <-check.C:
			p.mu.Lock()
			conn, connected := p.conn, p.connected
			silent := p.clock.Now().Sub(p.lastMessage)
			p.mu.Unlock()
			if connected && conn != nil && silent > messageReconnectTimeout {
				p.logger.Warn("closing silent socket", zap.Duration("silent", silent))
				conn.Close()
			}
		}
	}
}

func (p *Provider) setSynced(synced bool) {
	p.mu.Lock()
	changed := p.synced != synced
	p.synced = synced
	p.mu.Unlock()

	if changed {
		p.emit("synced", func(l Listener) {
			if l.OnSynced != nil {
				l.OnSynced(synced)
			}
		})
	}
}

func (p *Provider) emitStatus(status Status) {
	p.emit("status", func(l Listener) {
		if l.OnStatus != nil {
			l.OnStatus(status)
		}
	})
}

func (p *Provider) emit(event string, fn func(Listener)) {
	p.listeners.Notify(event, func(l Listener) error {
		fn(l)
		return nil
	})
}

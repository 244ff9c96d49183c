package monoprice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twolfekc/monozone-pi/internal/zone"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and tuning for the iTach connection.
const (
	// defaultConnectTimeout is the maximum time to wait for TCP establishment.
	defaultConnectTimeout = 5 * time.Second

	// defaultCommandTimeout is how long a submitted command waits for its
	// correlated response before failing with ErrCommandTimeout.
	defaultCommandTimeout = 2 * time.Second

	// defaultReadIdleTimeout is the per-read deadline on the socket.
	// Hitting it while idle is normal; only real errors tear down.
	defaultReadIdleTimeout = 30 * time.Second

	// defaultReconnectInitialDelay is the base reconnect backoff.
	defaultReconnectInitialDelay = 1 * time.Second

	// defaultReconnectMaxDelay caps the reconnect backoff.
	defaultReconnectMaxDelay = 30 * time.Second

	// defaultConnectedGrace marks the connection Connected this long
	// after dial even if no frame has arrived yet.
	defaultConnectedGrace = 2 * time.Second

	// defaultDegradedAfter is the number of consecutive command timeouts
	// before the connection is considered Degraded.
	defaultDegradedAfter = 3

	// defaultQueueSize bounds the outbound command queue.
	defaultQueueSize = 32

	// readBufferSize is the socket read chunk size.
	readBufferSize = 256

	// frameQueueSize buffers decoded frames between the read loop and
	// the command correlator.
	frameQueueSize = 16

	// maxLineLength guards against unbounded accumulation when the
	// stream carries garbage with no CR terminators.
	maxLineLength = 512
)

// ConnState is the bridge connection state.
type ConnState int32

// Connection states. There is no terminal failure state: the client
// retries until closed, because the amplifier and the iTach can be
// power-cycled independently of this process.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config holds iTach connection configuration.
type Config struct {
	// Host is the iTach IP address or hostname.
	Host string

	// Port is the iTach serial-passthrough TCP port. Default: 4999.
	Port int

	// ConnectTimeout is the maximum time to wait for TCP establishment.
	ConnectTimeout time.Duration

	// CommandTimeout is how long a command waits for its correlated
	// response.
	CommandTimeout time.Duration

	// ReadIdleTimeout is the per-read socket deadline.
	ReadIdleTimeout time.Duration

	// ReconnectInitialDelay is the base backoff between reconnect
	// attempts; it doubles per failure up to ReconnectMaxDelay and
	// resets on a successful connection.
	ReconnectInitialDelay time.Duration

	// ReconnectMaxDelay caps the reconnect backoff.
	ReconnectMaxDelay time.Duration

	// ConnectedGrace promotes Connecting → Connected this long after
	// dial when no frame has arrived but no error occurred either.
	ConnectedGrace time.Duration

	// DegradedAfter is the consecutive command timeout count that moves
	// Connected → Degraded. Any confirmed response restores Connected.
	DegradedAfter int

	// QueueSize bounds the outbound command queue.
	QueueSize int
}

// applyDefaults fills zero values with package defaults.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 4999
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.ReadIdleTimeout == 0 {
		c.ReadIdleTimeout = defaultReadIdleTimeout
	}
	if c.ReconnectInitialDelay == 0 {
		c.ReconnectInitialDelay = defaultReconnectInitialDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.ConnectedGrace == 0 {
		c.ConnectedGrace = defaultConnectedGrace
	}
	if c.DegradedAfter == 0 {
		c.DegradedAfter = defaultDegradedAfter
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics.
type Stats struct {
	FramesRx        uint64
	FramesUnparsed  uint64
	FramesDropped   uint64 // Frames dropped due to full correlation queue
	CommandsTx      uint64
	CommandTimeouts uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	State           ConnState
}

// pendingCommand is one queued, not-yet-acknowledged instruction.
type pendingCommand struct {
	data    []byte
	zoneID  int
	attr    zone.Attribute // zero for queries
	isQuery bool

	// done receives exactly one result. Buffered so the session never
	// blocks on an abandoned waiter.
	done chan error

	// cancelled is set when the waiting caller gave up. A cancelled
	// command is skipped if not yet written; bytes already on the wire
	// stay there and the device's response is treated as unsolicited.
	cancelled atomic.Bool
}

// Client owns the single TCP connection to the iTach bridge.
//
// Outbound commands are serialised through a strict FIFO queue with
// exactly one command in flight: the device protocol has no transaction
// ids, so interleaving two commands' bytes is unrecoverable corruption.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The zone cache is written only from the session goroutine's
//     confirmed-response path.
//
// Auto-Reconnection:
//   - On any connection loss the client reconnects with exponential
//     backoff (doubling from ReconnectInitialDelay, capped at
//     ReconnectMaxDelay, reset on success) until Close is called.
type Client struct {
	cfg   Config
	cache *zone.Cache

	queue chan *pendingCommand

	state         atomic.Int32
	onStateChange func(ConnState)
	stateMu       sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for lock-free reads)
	framesRx        atomic.Uint64
	framesUnparsed  atomic.Uint64
	framesDropped   atomic.Uint64
	commandsTx      atomic.Uint64
	commandTimeouts atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// New creates a client for the given iTach address. The client starts in
// the Disconnected state; call Start to begin connecting.
//
// Parameters:
//   - cfg: connection configuration (zero fields take defaults)
//   - cache: the zone state cache this client feeds
func New(cfg Config, cache *zone.Cache) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:   cfg,
		cache: cache,
		queue: make(chan *pendingCommand, cfg.QueueSize),
		done:  newCloseOnce(),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// Start launches the connection manager. It returns immediately; the
// manager dials in the background and retries forever. Device downtime
// therefore never fails process startup.
//
// The context cancels the manager the same way Close does.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Close shuts the client down and waits for its goroutines to finish.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	c.wg.Wait()
	c.setState(StateDisconnected)
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Cache returns the zone state cache this client feeds.
func (c *Client) Cache() *zone.Cache {
	return c.cache
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetOnStateChange registers a callback invoked on every connection
// state transition. The callback runs on the manager goroutine and must
// not block.
func (c *Client) SetOnStateChange(fn func(ConnState)) {
	c.stateMu.Lock()
	c.onStateChange = fn
	c.stateMu.Unlock()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesRx:        c.framesRx.Load(),
		FramesUnparsed:  c.framesUnparsed.Load(),
		FramesDropped:   c.framesDropped.Load(),
		CommandsTx:      c.commandsTx.Load(),
		CommandTimeouts: c.commandTimeouts.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		State:           c.State(),
	}
}

// Set submits a set command and blocks until the device confirms it, the
// command times out, or the connection drops.
//
// Parameters:
//   - ctx: caller cancellation. Cancelling releases the caller; bytes
//     already written stay on the wire and the eventual response is
//     applied to the cache as an unsolicited update.
//   - zoneID: target zone
//   - attr: writable attribute
//   - value: raw wire value, already within the attribute's domain
//
// Returns:
//   - error: nil on confirmation, ErrEncoding for invalid input,
//     ErrNotConnected, ErrCommandTimeout, ErrClosed, or ctx.Err()
func (c *Client) Set(ctx context.Context, zoneID int, attr zone.Attribute, value int) error {
	data, err := EncodeSet(zoneID, attr, value)
	if err != nil {
		return err
	}
	return c.submit(ctx, &pendingCommand{
		data:   data,
		zoneID: zoneID,
		attr:   attr,
		done:   make(chan error, 1),
	})
}

// Query submits a full-status query for one zone and blocks until the
// status response has been applied to the cache.
func (c *Client) Query(ctx context.Context, zoneID int) error {
	data, err := EncodeQuery(zoneID)
	if err != nil {
		return err
	}
	return c.submit(ctx, &pendingCommand{
		data:    data,
		zoneID:  zoneID,
		isQuery: true,
		done:    make(chan error, 1),
	})
}

// submit enqueues a command and waits for its outcome.
//
// An enqueue while Disconnected/Connecting fails fast with
// ErrNotConnected so callers can decide to retry or surface an error
// instead of queuing indefinitely.
func (c *Client) submit(ctx context.Context, pc *pendingCommand) error {
	st := c.State()
	if st != StateConnected && st != StateDegraded {
		return fmt.Errorf("%w: state %s", ErrNotConnected, st)
	}

	select {
	case c.queue <- pc:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done.Done():
		return ErrClosed
	}

	select {
	case err := <-pc.done:
		return err
	case <-ctx.Done():
		pc.cancelled.Store(true)
		return ctx.Err()
	case <-c.done.Done():
		pc.cancelled.Store(true)
		return ErrClosed
	}
}

// run is the connection manager loop: dial, run a session, back off on
// failure, repeat until shutdown.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectInitialDelay
	attempts := 0
	for {
		if c.stopped(ctx) {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			attempts++
			c.setState(StateDisconnected)
			c.logWarn("connect failed", "addr", c.addr(), "attempt", attempts, "backoff", backoff.String(), "error", err)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.done.Done():
				return
			}

			backoff = min(backoff*2, c.cfg.ReconnectMaxDelay)
			continue
		}

		if attempts > 0 {
			c.reconnectsTotal.Add(1)
		}
		attempts = 0
		backoff = c.cfg.ReconnectInitialDelay
		c.logInfo("connected to iTach", "addr", c.addr())

		c.session(ctx, conn)

		c.setState(StateDisconnected)
		if c.stopped(ctx) {
			return
		}
		c.logInfo("connection lost, will reconnect", "addr", c.addr())
	}
}

// dial establishes the TCP connection with the configured timeout.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr(), err)
	}
	return conn, nil
}

// addr returns the iTach host:port string.
func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
}

// session runs one connection's lifetime: it starts the read loop, waits
// for Connecting → Connected, and serialises commands from the queue.
// It returns when the connection is lost or the client shuts down.
func (c *Client) session(ctx context.Context, conn net.Conn) {
	frames := make(chan Frame, frameQueueSize)
	readErr := make(chan error, 1)

	var readWG sync.WaitGroup
	readWG.Add(1)
	go func() {
		defer readWG.Done()
		c.readLoop(conn, frames, readErr)
	}()

	defer func() {
		conn.Close()
		readWG.Wait()
		c.failQueued()
	}()

	grace := time.NewTimer(c.cfg.ConnectedGrace)
	defer grace.Stop()

	// consecutiveTimeouts is session-local: it feeds the Degraded
	// transition and resets on any confirmed response.
	consecutiveTimeouts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done.Done():
			return
		case err := <-readErr:
			c.logWarn("read loop failed", "error", err)
			return
		case <-grace.C:
			// No errors within the grace period: good enough to
			// start accepting commands even on a silent wire.
			c.markConnected(&consecutiveTimeouts)
		case f := <-frames:
			_ = f
			c.markConnected(&consecutiveTimeouts)
		case pc := <-c.queue:
			if err := c.transact(ctx, conn, pc, frames, readErr, &consecutiveTimeouts); err != nil {
				return
			}
		}
	}
}

// transact writes one command to the wire and waits for its correlated
// response. It returns a non-nil error only when the session must end
// (socket failure or shutdown); command-level failures are delivered to
// the waiter and return nil.
func (c *Client) transact(ctx context.Context, conn net.Conn, pc *pendingCommand,
	frames <-chan Frame, readErr <-chan error, consecutiveTimeouts *int) error {
	if pc.cancelled.Load() {
		return nil
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.CommandTimeout)); err != nil {
		pc.done <- fmt.Errorf("%w: set write deadline: %w", ErrNotConnected, err)
		return err
	}
	if _, err := conn.Write(pc.data); err != nil {
		pc.done <- fmt.Errorf("%w: write: %w", ErrNotConnected, err)
		return err
	}
	c.commandsTx.Add(1)

	timeout := time.NewTimer(c.cfg.CommandTimeout)
	defer timeout.Stop()

	for {
		select {
		case f := <-frames:
			if c.correlates(pc, f) {
				*consecutiveTimeouts = 0
				c.markConnected(consecutiveTimeouts)
				pc.done <- nil
				return nil
			}
			// Unsolicited frame: already applied to the cache by the
			// read loop; the pending slot keeps waiting.
		case <-timeout.C:
			c.commandTimeouts.Add(1)
			*consecutiveTimeouts++
			if *consecutiveTimeouts >= c.cfg.DegradedAfter && c.State() == StateConnected {
				c.logWarn("consecutive command timeouts, marking degraded",
					"timeouts", *consecutiveTimeouts)
				c.setState(StateDegraded)
			}
			pc.done <- fmt.Errorf("%w: zone %d after %s", ErrCommandTimeout, pc.zoneID, c.cfg.CommandTimeout)
			return nil
		case err := <-readErr:
			pc.done <- fmt.Errorf("%w: connection lost", ErrNotConnected)
			return err
		case <-ctx.Done():
			pc.done <- fmt.Errorf("%w: shutting down", ErrNotConnected)
			return ctx.Err()
		case <-c.done.Done():
			pc.done <- fmt.Errorf("%w: shutting down", ErrNotConnected)
			return ErrClosed
		}
	}
}

// correlates reports whether a decoded frame answers the pending
// command. The protocol has no transaction ids: correlation is by the
// echoed zone (and attribute, for sets). A status response for the right
// zone also confirms a set, covering firmwares that reply with a full
// snapshot instead of an echo.
func (c *Client) correlates(pc *pendingCommand, f Frame) bool {
	if f.Zone != pc.zoneID {
		return false
	}
	if pc.isQuery {
		return f.Kind == FrameStatus
	}
	switch f.Kind {
	case FrameAck:
		return f.Attr == pc.attr
	case FrameStatus:
		return true
	default:
		return false
	}
}

// readLoop continuously reads and decodes CR-terminated lines,
// applying confirmed frames to the zone cache and forwarding parsed
// frames to the session for correlation.
func (c *Client) readLoop(conn net.Conn, frames chan<- Frame, readErr chan<- error) {
	buf := make([]byte, readBufferSize)
	var acc []byte

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout)); err != nil {
			c.reportReadErr(readErr, fmt.Errorf("set read deadline: %w", err))
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			acc = c.drainLines(acc, frames)

			// Garbage guard: a stream with no CR terminators must not
			// accumulate without bound.
			if len(acc) > maxLineLength {
				c.framesUnparsed.Add(1)
				c.logWarn("discarding oversized partial line", "bytes", len(acc))
				acc = nil
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // Idle is normal; keep reading.
			}
			c.reportReadErr(readErr, err)
			return
		}
	}
}

// drainLines splits accumulated bytes on CR, decodes each complete line,
// applies confirmed frames to the cache and forwards them for
// correlation. Returns the unconsumed remainder.
func (c *Client) drainLines(acc []byte, frames chan<- Frame) []byte {
	for {
		idx := bytes.IndexByte(acc, terminator)
		if idx < 0 {
			return acc
		}
		line := string(bytes.TrimSpace(acc[:idx]))
		acc = acc[idx+1:]
		if line == "" {
			continue
		}

		f := Decode(line)
		c.lastActivity.Store(time.Now().Unix())

		if f.Kind == FrameUnparsed {
			c.framesUnparsed.Add(1)
			c.logDebug("unparsed frame", "raw", f.Raw)
			continue
		}
		c.framesRx.Add(1)

		c.applyFrame(f)

		// Forward for correlation; drop on overflow rather than stall
		// the read loop (the waiter will time out and retry).
		select {
		case frames <- f:
		default:
			c.framesDropped.Add(1)
		}
	}
}

// applyFrame applies a confirmed device response to the zone cache.
// Both solicited and unsolicited frames go through here: the device
// pushes state changes made at the front panel or by IR remote.
func (c *Client) applyFrame(f Frame) {
	var err error
	switch f.Kind {
	case FrameStatus:
		err = c.cache.ApplyStatus(*f.Status)
	case FrameAck:
		err = c.cache.ApplyAttribute(f.Zone, f.Attr, f.Value)
	}
	if err != nil {
		c.logDebug("dropping frame for unconfigured zone", "zone", f.Zone, "error", err)
	}
}

// reportReadErr delivers a fatal read error without blocking.
func (c *Client) reportReadErr(readErr chan<- error, err error) {
	select {
	case readErr <- err:
	default:
	}
}

// failQueued drains commands still waiting in the queue after a session
// ends, failing them fast so callers never hang across a reconnect.
func (c *Client) failQueued() {
	for {
		select {
		case pc := <-c.queue:
			pc.done <- fmt.Errorf("%w: connection lost before send", ErrNotConnected)
		default:
			return
		}
	}
}

// markConnected promotes Connecting or Degraded to Connected.
func (c *Client) markConnected(consecutiveTimeouts *int) {
	switch c.State() {
	case StateConnecting:
		c.setState(StateConnected)
	case StateDegraded:
		if *consecutiveTimeouts == 0 {
			c.setState(StateConnected)
		}
	}
}

// setState transitions the connection state and fires the callback.
func (c *Client) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old == s {
		return
	}

	c.logDebug("connection state change", "from", old.String(), "to", s.String())

	c.stateMu.RLock()
	fn := c.onStateChange
	c.stateMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// stopped reports whether shutdown has been requested.
func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// logDebug logs a debug message if a logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrWrongDirection    = errors.New("operation not allowed on a transport of this direction")
	ErrNotInitialized    = errors.New("media orchestrator not initialized")
)

type (
	transportEntry struct {
		transport Transport
		direction Direction
		connected bool
	}

	// room is the routing context of one session. mu guards its maps; engine calls are made without it.
	room struct {
		id        string
		sessionID string
		worker    Worker
		router    Router
		createdAt time.Time

		mu         sync.Mutex
		closed     bool
		transports map[string]*transportEntry
		producers  map[string]Producer
		consumers  map[string]Consumer
	}

	// pendingRoom is a room whose router is being created.
	pendingRoom struct {
		done chan struct{}
		info RoomInfo
		err  error
	}

	// Orchestrator binds sessions to routing rooms on a fixed pool of workers and keeps the handles of
	// everything created in them. Its state is process-local and never the source of truth.
	// mu guards the room index only and is never held across a worker call.
	Orchestrator struct {
		factory      WorkerFactory
		size         int
		logger       core.Logger
		onWorkerDied func(workerID int, err error)

		mu        sync.RWMutex
		scheduler *Scheduler
		rooms     map[string]*room
		pending   map[string]*pendingRoom
	}
)

// NewOrchestrator returns an Orchestrator of `size` workers built by factory.
// onWorkerDied is invoked when a worker dies; when nil, the process exits through logger.Fatal.
func NewOrchestrator(factory WorkerFactory, size int, logger core.Logger, onWorkerDied func(workerID int, err error)) *Orchestrator {
	if size < 1 {
		size = 1
	}
	o := &Orchestrator{
		factory:      factory,
		size:         size,
		logger:       logger,
		onWorkerDied: onWorkerDied,
		rooms:        make(map[string]*room),
		pending:      make(map[string]*pendingRoom),
	}
	if o.onWorkerDied == nil {
		o.onWorkerDied = func(workerID int, err error) {
			logger.Fatal(fmt.Sprintf("media worker %d died, exiting: %v", workerID, err), err)
		}
	}
	return o
}

// Initialize starts the worker pool. A worker death is fatal.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	workers := make([]Worker, 0, o.size)
	for i := 0; i < o.size; i++ {
		w, err := o.factory(ctx, i)
		if err != nil {
			for _, started := range workers {
				_ = started.Close()
			}
			return errors.Wrapf(err, "starting media worker %d", i)
		}
		workers = append(workers, w)
	}

	o.mu.Lock()
	o.scheduler = NewScheduler(workers...)
	o.mu.Unlock()
	workersGauge.Set(float64(len(workers)))

	for _, w := range workers {
		go o.watch(w)
	}
	o.logger.Info(fmt.Sprintf("media orchestrator initialized with %d workers", len(workers)))
	return nil
}

func (o *Orchestrator) watch(w Worker) {
	err, ok := <-w.Died()
	if !ok { // closed on purpose
		return
	}
	if err == nil {
		err = errors.Errorf("media worker %d exited", w.ID())
	}

	workerDeathsTotal.Inc()
	var dropped []*room
	o.mu.Lock()
	if o.scheduler != nil {
		o.scheduler.Remove(w.ID())
		workersGauge.Set(float64(o.scheduler.Len()))
	}
	for id, r := range o.rooms {
		if r.worker.ID() == w.ID() {
			delete(o.rooms, id)
			dropped = append(dropped, r)
		}
	}
	o.mu.Unlock()

	for _, r := range dropped {
		_ = r.close()
	}
	o.onWorkerDied(w.ID(), err)
}

// CreateRoom creates the routing room of a session on the next worker. It is idempotent by roomID:
// concurrent calls for the same room wait for the first one and share its result.
func (o *Orchestrator) CreateRoom(ctx context.Context, roomID, sessionID string) (RoomInfo, error) {
	o.mu.Lock()
	if r, ok := o.rooms[roomID]; ok {
		o.mu.Unlock()
		return r.info(), nil
	}
	if pr, ok := o.pending[roomID]; ok {
		o.mu.Unlock()
		select {
		case <-pr.done:
			return pr.info, pr.err
		case <-ctx.Done():
			return RoomInfo{}, ctx.Err()
		}
	}
	if o.scheduler == nil {
		o.mu.Unlock()
		return RoomInfo{}, ErrNotInitialized
	}
	w, err := o.scheduler.NextWorker()
	if err != nil {
		o.mu.Unlock()
		return RoomInfo{}, err
	}
	pr := &pendingRoom{done: make(chan struct{})}
	o.pending[roomID] = pr
	o.mu.Unlock()

	pr.info, pr.err = o.createRoom(ctx, w, roomID, sessionID)
	close(pr.done)
	return pr.info, pr.err
}

func (o *Orchestrator) createRoom(ctx context.Context, w Worker, roomID, sessionID string) (RoomInfo, error) {
	router, err := w.CreateRouter(ctx, RouterOptions{Codecs: DefaultCodecs})

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, roomID)

	if err != nil {
		return RoomInfo{}, errors.Wrapf(err, "creating router on worker %d", w.ID())
	}
	if o.scheduler == nil || !o.scheduler.Has(w.ID()) { // worker died or closed meanwhile
		_ = router.Close()
		return RoomInfo{}, errors.Errorf("media worker %d is gone", w.ID())
	}

	r := &room{
		id:         roomID,
		sessionID:  sessionID,
		worker:     w,
		router:     router,
		transports: make(map[string]*transportEntry),
		producers:  make(map[string]Producer),
		consumers:  make(map[string]Consumer),
		createdAt:  core.Now(),
	}
	o.rooms[roomID] = r
	roomsGauge.Inc()
	o.logger.Debug(fmt.Sprintf("room %s created on worker %d for session %s", roomID, w.ID(), sessionID))
	return r.info(), nil
}

// EnsureRoom creates the room if it does not exist yet.
func (o *Orchestrator) EnsureRoom(ctx context.Context, roomID, sessionID string) error {
	_, err := o.CreateRoom(ctx, roomID, sessionID)
	return err
}

func (o *Orchestrator) room(roomID string) (*room, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	r, ok := o.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (o *Orchestrator) Room(roomID string) (RoomInfo, error) {
	r, err := o.room(roomID)
	if err != nil {
		return RoomInfo{}, err
	}
	return r.info(), nil
}

func (o *Orchestrator) RtpCapabilities(roomID string) (RtpCapabilities, error) {
	r, err := o.room(roomID)
	if err != nil {
		return RtpCapabilities{}, err
	}
	return r.router.RtpCapabilities(), nil
}

// CreateWebRtcTransport allocates a transport in the room and returns its negotiation parameters.
func (o *Orchestrator) CreateWebRtcTransport(ctx context.Context, roomID string, direction Direction) (TransportParams, error) {
	r, err := o.room(roomID)
	if err != nil {
		return TransportParams{}, err
	}
	t, err := r.router.CreateWebRtcTransport(ctx, TransportOptions{Direction: direction})
	if err != nil {
		return TransportParams{}, errors.Wrap(err, "creating webrtc transport")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = t.Close()
		return TransportParams{}, ErrRoomNotFound
	}
	r.transports[t.ID()] = &transportEntry{transport: t, direction: direction}
	transportsGauge.Inc()
	return t.Params(), nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, roomID, transportID string, dtls DtlsParameters) error {
	r, te, err := o.transport(roomID, transportID)
	if err != nil {
		return err
	}
	if err := te.transport.Connect(ctx, dtls); err != nil {
		return errors.Wrap(err, "connecting transport")
	}

	r.mu.Lock()
	te.connected = true
	r.mu.Unlock()
	return nil
}

func (o *Orchestrator) Produce(ctx context.Context, roomID, transportID string, kind Kind) (ProducerInfo, error) {
	r, te, err := o.transport(roomID, transportID)
	if err != nil {
		return ProducerInfo{}, err
	}
	if te.direction != DirectionSend {
		return ProducerInfo{}, ErrWrongDirection
	}
	p, err := te.transport.Produce(ctx, kind)
	if err != nil {
		return ProducerInfo{}, errors.Wrap(err, "producing")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = p.Close()
		return ProducerInfo{}, ErrRoomNotFound
	}
	r.producers[p.ID()] = p
	return ProducerInfo{ID: p.ID(), Kind: p.Kind()}, nil
}

func (o *Orchestrator) Consume(ctx context.Context, roomID, transportID, producerID string) (ConsumerInfo, error) {
	r, te, err := o.transport(roomID, transportID)
	if err != nil {
		return ConsumerInfo{}, err
	}
	if te.direction != DirectionRecv {
		return ConsumerInfo{}, ErrWrongDirection
	}
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return ConsumerInfo{}, ErrProducerNotFound
	}

	c, err := te.transport.Consume(ctx, p)
	if err != nil {
		return ConsumerInfo{}, errors.Wrap(err, "consuming")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = c.Close()
		return ConsumerInfo{}, ErrRoomNotFound
	}
	r.consumers[c.ID()] = c
	return ConsumerInfo{ID: c.ID(), ProducerID: c.ProducerID(), Kind: c.Kind()}, nil
}

func (o *Orchestrator) transport(roomID, transportID string) (*room, *transportEntry, error) {
	r, err := o.room(roomID)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	te, ok := r.transports[transportID]
	if !ok {
		return nil, nil, ErrTransportNotFound
	}
	return r, te, nil
}

// CloseRoom releases the room and everything in it. Closing an unknown room is a no-op.
func (o *Orchestrator) CloseRoom(roomID string) error {
	o.mu.Lock()
	r, ok := o.rooms[roomID]
	delete(o.rooms, roomID)
	o.mu.Unlock()

	if !ok {
		return nil
	}
	return r.close()
}

// Close closes every room, then the workers.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	rooms := o.rooms
	o.rooms = make(map[string]*room)
	scheduler := o.scheduler
	var workers []Worker
	if scheduler != nil {
		workers = scheduler.Workers()
		for _, w := range workers {
			scheduler.Remove(w.ID())
		}
	}
	o.mu.Unlock()

	for _, r := range rooms {
		if err := r.close(); err != nil {
			o.logger.Warn(err.Error(), err)
		}
	}
	var firstErr error
	for _, w := range workers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	workersGauge.Set(0)
	return firstErr
}

// close releases everything created in the room. The room must already be out of the index.
func (r *room) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	roomsGauge.Dec()
	transportsGauge.Sub(float64(len(r.transports)))

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range r.consumers {
		keep(c.Close())
	}
	for _, p := range r.producers {
		keep(p.Close())
	}
	for _, te := range r.transports {
		keep(te.transport.Close())
	}
	keep(r.router.Close())
	return errors.Wrapf(firstErr, "closing room %s", r.id)
}

func (r *room) info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{
		ID:         r.id,
		SessionID:  r.sessionID,
		WorkerID:   r.worker.ID(),
		RouterID:   r.router.ID(),
		Transports: len(r.transports),
		Producers:  len(r.producers),
		Consumers:  len(r.consumers),
		CreatedAt:  r.createdAt,
	}
}

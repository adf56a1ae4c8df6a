package testutil

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/media"
)

var fakeIDs uint64

func nextFakeID(prefix string) string {
	return prefix + "-" + strconv.FormatUint(atomic.AddUint64(&fakeIDs, 1), 10)
}

func wait(ctx context.Context, entered, block chan struct{}) error {
	if entered != nil {
		entered <- struct{}{}
	}
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeWorkers builds in-process media workers that record what is created on them.
type FakeWorkers struct {
	mu      sync.Mutex
	Workers []*FakeWorker
	FailOn  map[int]error // factory errors, by worker id
}

func NewFakeWorkers() *FakeWorkers {
	return &FakeWorkers{FailOn: make(map[int]error)}
}

func (fw *FakeWorkers) Factory(_ context.Context, id int) (media.Worker, error) {
	if err, ok := fw.FailOn[id]; ok {
		return nil, err
	}
	w := &FakeWorker{id: id, died: make(chan error, 1)}
	fw.mu.Lock()
	fw.Workers = append(fw.Workers, w)
	fw.mu.Unlock()
	return w, nil
}

func (fw *FakeWorkers) Get(id int) *FakeWorker {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, w := range fw.Workers {
		if w.id == id {
			return w
		}
	}
	return nil
}

type FakeWorker struct {
	id      int
	died    chan error
	mu      sync.Mutex
	Routers []*FakeRouter
	closed  bool
	// Block, when set, holds CreateRouter until it is closed. Entered, when set, is signalled first.
	Block   chan struct{}
	Entered chan struct{}
}

var _ media.Worker = (*FakeWorker)(nil)

func (w *FakeWorker) ID() int { return w.id }

func (w *FakeWorker) CreateRouter(ctx context.Context, opts media.RouterOptions) (media.Router, error) {
	if err := wait(ctx, w.Entered, w.Block); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errors.New("worker closed")
	}
	r := &FakeRouter{id: nextFakeID("router"), codecs: opts.Codecs}
	w.Routers = append(w.Routers, r)
	return r, nil
}

func (w *FakeWorker) Died() <-chan error { return w.died }

// Kill simulates a crash of the worker.
func (w *FakeWorker) Kill(err error) { w.died <- err }

func (w *FakeWorker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Routers)
}

func (w *FakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.died)
	}
	return nil
}

type FakeRouter struct {
	id     string
	codecs []media.RtpCodecCapability
	Closed bool
	// Block, when set, holds CreateWebRtcTransport until it is closed. Entered, when set, is signalled first.
	Block   chan struct{}
	Entered chan struct{}
}

func (r *FakeRouter) ID() string { return r.id }

func (r *FakeRouter) RtpCapabilities() media.RtpCapabilities {
	return media.RtpCapabilities{Codecs: r.codecs}
}

func (r *FakeRouter) CreateWebRtcTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	if err := wait(ctx, r.Entered, r.Block); err != nil {
		return nil, err
	}
	id := nextFakeID("transport")
	return &FakeTransport{
		params: media.TransportParams{
			ID:            id,
			IceParameters: media.IceParameters{UsernameFragment: "ufrag-" + id, Password: "pwd-" + id, IceLite: true},
			IceCandidates: []media.IceCandidate{
				{Foundation: "1", Priority: 2130706431, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"},
			},
			DtlsParameters: media.DtlsParameters{
				Role:         "auto",
				Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
			},
		},
		direction: opts.Direction,
	}, nil
}

func (r *FakeRouter) Close() error {
	r.Closed = true
	return nil
}

type FakeTransport struct {
	params    media.TransportParams
	direction media.Direction
	Connected bool
	Closed    bool
}

func (t *FakeTransport) ID() string                    { return t.params.ID }
func (t *FakeTransport) Params() media.TransportParams { return t.params }

func (t *FakeTransport) Connect(_ context.Context, _ media.DtlsParameters) error {
	t.Connected = true
	return nil
}

func (t *FakeTransport) Produce(_ context.Context, kind media.Kind) (media.Producer, error) {
	return &fakeProducer{id: nextFakeID("producer"), kind: kind}, nil
}

func (t *FakeTransport) Consume(_ context.Context, p media.Producer) (media.Consumer, error) {
	return &fakeConsumer{id: nextFakeID("consumer"), producerID: p.ID(), kind: p.Kind()}, nil
}

func (t *FakeTransport) Close() error {
	t.Closed = true
	return nil
}

type fakeProducer struct {
	id   string
	kind media.Kind
}

func (p *fakeProducer) ID() string       { return p.id }
func (p *fakeProducer) Kind() media.Kind { return p.kind }
func (p *fakeProducer) Close() error     { return nil }

type fakeConsumer struct {
	id         string
	producerID string
	kind       media.Kind
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }
func (c *fakeConsumer) Kind() media.Kind   { return c.kind }
func (c *fakeConsumer) Close() error       { return nil }

package pionsfu

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/media"
)

// transport is a WebRTC transport built from the pion ORTC objects.
type transport struct {
	id        string
	router    *router
	direction media.Direction
	gatherer  *webrtc.ICEGatherer
	ice       *webrtc.ICETransport
	dtls      *webrtc.DTLSTransport
	params    media.TransportParams

	mu     sync.Mutex
	remote *media.DtlsParameters
	closed bool
}

var _ media.Transport = (*transport)(nil) // interface compliance check

func newTransport(r *router, opts media.TransportOptions) (t *transport, err error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "creating ICE gatherer")
	}
	defer func() {
		if err != nil {
			_ = gatherer.Close()
		}
	}()

	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating DTLS transport")
	}

	if err = gather(gatherer, r.gatherTimeout()); err != nil {
		return nil, err
	}

	t = &transport{
		id:        uuid.NewString(),
		router:    r,
		direction: opts.Direction,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
	}
	if t.params, err = t.localParams(); err != nil {
		return nil, err
	}
	return t, nil
}

// gather collects the local candidates, or gives up after timeout.
func gather(gatherer *webrtc.ICEGatherer, timeout time.Duration) error {
	complete := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(complete) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		return errors.Wrap(err, "gathering ICE candidates")
	}

	select {
	case <-complete:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("ICE gathering timed out after %s", timeout)
	}
}

func (t *transport) localParams() (media.TransportParams, error) {
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return media.TransportParams{}, errors.Wrap(err, "reading ICE parameters")
	}
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return media.TransportParams{}, errors.Wrap(err, "reading ICE candidates")
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return media.TransportParams{}, errors.Wrap(err, "reading DTLS parameters")
	}

	params := media.TransportParams{
		ID: t.id,
		IceParameters: media.IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
			IceLite:          iceParams.ICELite,
		},
		IceCandidates: make([]media.IceCandidate, 0, len(candidates)),
		DtlsParameters: media.DtlsParameters{
			Role:         dtlsRole(dtlsParams.Role),
			Fingerprints: make([]media.DtlsFingerprint, 0, len(dtlsParams.Fingerprints)),
		},
	}
	for _, c := range candidates {
		params.IceCandidates = append(params.IceCandidates, media.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	for _, fp := range dtlsParams.Fingerprints {
		params.DtlsParameters.Fingerprints = append(params.DtlsParameters.Fingerprints, media.DtlsFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return params, nil
}

func dtlsRole(role webrtc.DTLSRole) string {
	switch role {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	}
	return "auto"
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() media.TransportParams { return t.params }

// Connect records the remote DTLS parameters. The handshake itself runs once the peer reaches the
// gathered candidates.
func (t *transport) Connect(_ context.Context, dtls media.DtlsParameters) error {
	if len(dtls.Fingerprints) == 0 {
		return errors.New("remote DTLS parameters carry no fingerprint")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Errorf("transport %s closed", t.id)
	}
	t.remote = &dtls
	return nil
}

func (t *transport) Produce(ctx context.Context, kind media.Kind) (media.Producer, error) {
	capability, err := t.router.capability(kind)
	if err != nil {
		return nil, err
	}
	typ, err := codecType(kind)
	if err != nil {
		return nil, err
	}

	var p *producer
	if doErr := t.router.worker.do(ctx, func() {
		id := uuid.NewString()
		var track *webrtc.TrackLocalStaticRTP
		if track, err = webrtc.NewTrackLocalStaticRTP(capability, id, t.id); err != nil {
			return
		}
		var receiver *webrtc.RTPReceiver
		if receiver, err = t.router.api.NewRTPReceiver(typ, t.dtls); err != nil {
			return
		}
		p = &producer{id: id, kind: kind, track: track, receiver: receiver}
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "producing %s on transport %s", kind, t.id)
	}
	return p, nil
}

func (t *transport) Consume(ctx context.Context, prod media.Producer) (media.Consumer, error) {
	p, ok := prod.(*producer)
	if !ok {
		return nil, errors.Errorf("producer %s was not created by this engine", prod.ID())
	}

	var (
		c   *consumer
		err error
	)
	if doErr := t.router.worker.do(ctx, func() {
		var sender *webrtc.RTPSender
		if sender, err = t.router.api.NewRTPSender(p.track, t.dtls); err != nil {
			return
		}
		c = &consumer{id: uuid.NewString(), producerID: p.id, kind: p.kind, sender: sender}
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "consuming producer %s on transport %s", p.id, t.id)
	}
	return c, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// stopping an unstarted DTLS or ICE transport is a no-op
	if err := t.dtls.Stop(); err != nil {
		return errors.Wrap(err, "stopping DTLS transport")
	}
	if err := t.ice.Stop(); err != nil {
		return errors.Wrap(err, "stopping ICE transport")
	}
	return errors.Wrap(t.gatherer.Close(), "closing ICE gatherer")
}

type producer struct {
	id       string
	kind     media.Kind
	track    *webrtc.TrackLocalStaticRTP
	receiver *webrtc.RTPReceiver
}

var _ media.Producer = (*producer)(nil) // interface compliance check

func (p *producer) ID() string       { return p.id }
func (p *producer) Kind() media.Kind { return p.kind }
func (p *producer) Close() error     { return p.receiver.Stop() }

type consumer struct {
	id         string
	producerID string
	kind       media.Kind
	sender     *webrtc.RTPSender
}

var _ media.Consumer = (*consumer)(nil) // interface compliance check

func (c *consumer) ID() string         { return c.id }
func (c *consumer) ProducerID() string { return c.producerID }
func (c *consumer) Kind() media.Kind   { return c.kind }
func (c *consumer) Close() error       { return c.sender.Stop() }

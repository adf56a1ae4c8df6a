package pionsfu

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/media"
)

const defaultGatherTimeout = 5 * time.Second

// router is a pion API built for one room: its media engine carries the room codecs and its setting
// engine the network constraints of the worker.
type router struct {
	id     string
	worker *Worker
	api    *webrtc.API
	codecs []media.RtpCodecCapability

	mu     sync.Mutex
	closed bool
}

var _ media.Router = (*router)(nil) // interface compliance check

func newRouter(w *Worker, opts media.RouterOptions) (*router, error) {
	codecs := opts.Codecs
	if len(codecs) == 0 {
		codecs = media.DefaultCodecs
	}

	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		typ, err := codecType(c.Kind)
		if err != nil {
			return nil, err
		}
		if err := m.RegisterCodec(codecParameters(c), typ); err != nil {
			return nil, errors.Wrapf(err, "registering codec %s", c.MimeType)
		}
	}

	s, err := settingEngine(w)
	if err != nil {
		return nil, err
	}

	return &router{
		id:     uuid.NewString(),
		worker: w,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)),
		codecs: codecs,
	}, nil
}

func settingEngine(w *Worker) (webrtc.SettingEngine, error) {
	s := webrtc.SettingEngine{}
	if w.conf.RTCMinPort > 0 && w.conf.RTCMaxPort > 0 {
		if err := s.SetEphemeralUDPPortRange(w.conf.RTCMinPort, w.conf.RTCMaxPort); err != nil {
			return s, errors.Wrap(err, "setting RTC port range")
		}
	}
	if ip := net.ParseIP(w.conf.ListenIP); ip != nil && !ip.IsUnspecified() {
		s.SetIPFilter(func(candidate net.IP) bool { return candidate.Equal(ip) })
	}
	if w.conf.AnnouncedIP != "" {
		s.SetNAT1To1IPs([]string{w.conf.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	return s, nil
}

func codecType(kind media.Kind) (webrtc.RTPCodecType, error) {
	switch kind {
	case media.KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case media.KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, errors.Errorf("unsupported media kind: %q", kind)
}

func codecParameters(c media.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    c.MimeType,
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
			SDPFmtpLine: fmtpLine(c.Parameters),
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// fmtpLine renders codec parameters in their SDP form, keys sorted.
func fmtpLine(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ";")
}

func (r *router) ID() string { return r.id }

func (r *router) RtpCapabilities() media.RtpCapabilities {
	codecs := make([]media.RtpCodecCapability, len(r.codecs))
	copy(codecs, r.codecs)
	return media.RtpCapabilities{Codecs: codecs}
}

// capability returns the first codec of the router for kind.
func (r *router) capability(kind media.Kind) (webrtc.RTPCodecCapability, error) {
	for _, c := range r.codecs {
		if c.Kind == kind {
			return codecParameters(c).RTPCodecCapability, nil
		}
	}
	return webrtc.RTPCodecCapability{}, errors.Errorf("no %s codec on router %s", kind, r.id)
}

func (r *router) CreateWebRtcTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.Errorf("router %s closed", r.id)
	}

	var (
		t   *transport
		err error
	)
	if doErr := r.worker.do(ctx, func() { t, err = newTransport(r, opts) }); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "creating transport on router %s", r.id)
	}
	return t, nil
}

func (r *router) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *router) gatherTimeout() time.Duration {
	if r.worker.conf.GatherTimeout > 0 {
		return r.worker.conf.GatherTimeout
	}
	return defaultGatherTimeout
}

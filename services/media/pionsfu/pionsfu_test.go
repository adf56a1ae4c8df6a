package pionsfu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/testutil"
)

func newWorker(t *testing.T) *Worker {
	conf := testutil.NewConfig()
	conf.Media.GatherTimeout = 5 * time.Second
	w, err := NewWorkerFactory(conf, testutil.NewLogger())(context.Background(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w.(*Worker)
}

func TestWorkerFactory_InvalidPortRange(t *testing.T) {
	conf := testutil.NewConfig()
	conf.Media.RTCMinPort = 50000
	conf.Media.RTCMaxPort = 40000
	_, err := NewWorkerFactory(conf, testutil.NewLogger())(context.Background(), 0)
	assert.EqualError(t, err, "invalid RTC port range: 50000-40000")
}

func TestWorker_Close(t *testing.T) {
	w := newWorker(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, ok := <-w.Died()
	assert.False(t, ok, "a closed worker does not die")

	_, err := w.CreateRouter(context.Background(), media.RouterOptions{})
	assert.Equal(t, ErrWorkerClosed, err)
}

func TestWorker_Panic(t *testing.T) {
	w := newWorker(t)

	err := w.do(context.Background(), func() { panic("out of memory") })
	assert.Equal(t, ErrWorkerClosed, err)

	select {
	case cause := <-w.Died():
		assert.EqualError(t, cause, "media worker 0 panicked: out of memory")
	case <-time.After(time.Second):
		t.Fatal("worker death not reported")
	}

	_, err = w.CreateRouter(context.Background(), media.RouterOptions{})
	assert.Equal(t, ErrWorkerClosed, err)
}

func TestWorker_ContextCancelled(t *testing.T) {
	w := newWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.do(ctx, func() {})
	if err != nil { // the worker may win the race against the cancelled context
		assert.Equal(t, context.Canceled, err)
	}
}

func TestRouter(t *testing.T) {
	w := newWorker(t)
	r, err := w.CreateRouter(context.Background(), media.RouterOptions{Codecs: media.DefaultCodecs})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID())
	assert.Equal(t, media.DefaultCodecs, r.RtpCapabilities().Codecs)

	require.NoError(t, r.Close())
	_, err = r.CreateWebRtcTransport(context.Background(), media.TransportOptions{Direction: media.DirectionSend})
	assert.Error(t, err)
}

func TestRouter_UnsupportedKind(t *testing.T) {
	w := newWorker(t)
	_, err := w.CreateRouter(context.Background(), media.RouterOptions{Codecs: []media.RtpCodecCapability{
		{Kind: "data", MimeType: "application/data", ClockRate: 1000},
	}})
	assert.EqualError(t, err, `creating router on worker 0: unsupported media kind: "data"`)
}

func TestTransport(t *testing.T) {
	ctx := context.Background()
	w := newWorker(t)
	r, err := w.CreateRouter(ctx, media.RouterOptions{})
	require.NoError(t, err)

	send, err := r.CreateWebRtcTransport(ctx, media.TransportOptions{Direction: media.DirectionSend})
	require.NoError(t, err)
	defer send.Close()

	params := send.Params()
	assert.Equal(t, send.ID(), params.ID)
	assert.NotEmpty(t, params.IceParameters.UsernameFragment)
	assert.NotEmpty(t, params.IceParameters.Password)
	require.NotEmpty(t, params.DtlsParameters.Fingerprints)
	assert.Equal(t, "sha-256", params.DtlsParameters.Fingerprints[0].Algorithm)
	assert.Equal(t, "auto", params.DtlsParameters.Role)

	assert.Error(t, send.Connect(ctx, media.DtlsParameters{}))
	assert.NoError(t, send.Connect(ctx, media.DtlsParameters{
		Role:         "client",
		Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	}))

	prod, err := send.Produce(ctx, media.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, media.KindVideo, prod.Kind())

	recv, err := r.CreateWebRtcTransport(ctx, media.TransportOptions{Direction: media.DirectionRecv})
	require.NoError(t, err)
	defer recv.Close()

	cons, err := recv.Consume(ctx, prod)
	require.NoError(t, err)
	assert.Equal(t, prod.ID(), cons.ProducerID())
	assert.Equal(t, media.KindVideo, cons.Kind())

	assert.NoError(t, cons.Close())
	assert.NoError(t, prod.Close())
}

func TestTransport_ForeignProducer(t *testing.T) {
	ctx := context.Background()
	w := newWorker(t)
	r, err := w.CreateRouter(ctx, media.RouterOptions{})
	require.NoError(t, err)
	recv, err := r.CreateWebRtcTransport(ctx, media.TransportOptions{Direction: media.DirectionRecv})
	require.NoError(t, err)
	defer recv.Close()

	fw := testutil.NewFakeWorkers()
	fake, err := fw.Factory(ctx, 0)
	require.NoError(t, err)
	fr, err := fake.CreateRouter(ctx, media.RouterOptions{})
	require.NoError(t, err)
	ft, err := fr.CreateWebRtcTransport(ctx, media.TransportOptions{Direction: media.DirectionSend})
	require.NoError(t, err)
	fp, err := ft.Produce(ctx, media.KindAudio)
	require.NoError(t, err)

	_, err = recv.Consume(ctx, fp)
	assert.Error(t, err)
}

func TestFmtpLine(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{"none", nil, ""},
		{"one", map[string]string{"x-google-start-bitrate": "1000"}, "x-google-start-bitrate=1000"},
		{"sorted", map[string]string{"useinbandfec": "1", "minptime": "10"}, "minptime=10;useinbandfec=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fmtpLine(tt.params))
		})
	}
}

func TestOrchestrator(t *testing.T) {
	ctx := context.Background()
	conf := testutil.NewConfig()
	conf.Media.GatherTimeout = 5 * time.Second
	orch := media.NewOrchestrator(NewWorkerFactory(conf, testutil.NewLogger()), 2, testutil.NewLogger(), func(int, error) {})
	require.NoError(t, orch.Initialize(ctx))
	defer orch.Close()

	room, err := orch.CreateRoom(ctx, "room-1", "session-1")
	require.NoError(t, err)
	caps, err := orch.RtpCapabilities(room.ID)
	require.NoError(t, err)
	assert.Len(t, caps.Codecs, 2)

	params, err := orch.CreateWebRtcTransport(ctx, room.ID, media.DirectionSend)
	require.NoError(t, err)
	assert.NotEmpty(t, params.DtlsParameters.Fingerprints)
	assert.NoError(t, orch.CloseRoom(room.ID))
}

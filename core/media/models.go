package media

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type (
	RtpCodecCapability struct {
		Kind                 Kind              `json:"kind"`
		MimeType             string            `json:"mimeType"`
		ClockRate            uint32            `json:"clockRate"`
		Channels             uint16            `json:"channels,omitempty"`
		PreferredPayloadType uint8             `json:"preferredPayloadType"`
		Parameters           map[string]string `json:"parameters,omitempty"`
	}

	RtpCapabilities struct {
		Codecs []RtpCodecCapability `json:"codecs"`
	}

	IceParameters struct {
		UsernameFragment string `json:"usernameFragment"`
		Password         string `json:"password"`
		IceLite          bool   `json:"iceLite"`
	}

	IceCandidate struct {
		Foundation string `json:"foundation"`
		Priority   uint32 `json:"priority"`
		IP         string `json:"ip"`
		Protocol   string `json:"protocol"`
		Port       uint16 `json:"port"`
		Type       string `json:"type"`
	}

	DtlsFingerprint struct {
		Algorithm string `json:"algorithm" validate:"required,max=20"`
		Value     string `json:"value" validate:"required,max=200"`
	}

	DtlsParameters struct {
		Role         string            `json:"role,omitempty" validate:"omitempty,oneof=auto client server"`
		Fingerprints []DtlsFingerprint `json:"fingerprints" validate:"required,min=1,dive"`
	}

	// TransportParams are the negotiation parameters a remote peer needs to connect to a transport.
	TransportParams struct {
		ID             string         `json:"id"`
		IceParameters  IceParameters  `json:"iceParameters"`
		IceCandidates  []IceCandidate `json:"iceCandidates"`
		DtlsParameters DtlsParameters `json:"dtlsParameters"`
	}

	RouterOptions struct {
		Codecs []RtpCodecCapability
	}

	TransportOptions struct {
		Direction Direction
	}

	RoomInfo struct {
		ID         string    `json:"id"`
		SessionID  string    `json:"sessionId"`
		WorkerID   int       `json:"workerId"`
		RouterID   string    `json:"routerId"`
		Transports int       `json:"transports"`
		Producers  int       `json:"producers"`
		Consumers  int       `json:"consumers"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	ProducerInfo struct {
		ID   string `json:"id"`
		Kind Kind   `json:"kind"`
	}

	ConsumerInfo struct {
		ID         string `json:"id"`
		ProducerID string `json:"producerId"`
		Kind       Kind   `json:"kind"`
	}
)

// DefaultCodecs is the fixed capability set of every router: opus audio and VP8 video.
var DefaultCodecs = []RtpCodecCapability{
	{
		Kind:                 KindAudio,
		MimeType:             "audio/opus",
		ClockRate:            48000,
		Channels:             2,
		PreferredPayloadType: 111,
	},
	{
		Kind:                 KindVideo,
		MimeType:             "video/VP8",
		ClockRate:            90000,
		PreferredPayloadType: 96,
		Parameters:           map[string]string{"x-google-start-bitrate": "1000"},
	},
}

// The media engine contracts. Handles never leave the Orchestrator.
type (
	Worker interface {
		ID() int
		CreateRouter(ctx context.Context, opts RouterOptions) (Router, error)
		// Died receives the cause of an unexpected death. It is closed, without a value, by Close.
		Died() <-chan error
		Close() error
	}

	Router interface {
		ID() string
		RtpCapabilities() RtpCapabilities
		CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (Transport, error)
		Close() error
	}

	Transport interface {
		ID() string
		Params() TransportParams
		Connect(ctx context.Context, dtls DtlsParameters) error
		Produce(ctx context.Context, kind Kind) (Producer, error)
		Consume(ctx context.Context, producer Producer) (Consumer, error)
		Close() error
	}

	Producer interface {
		ID() string
		Kind() Kind
		Close() error
	}

	Consumer interface {
		ID() string
		ProducerID() string
		Kind() Kind
		Close() error
	}

	// WorkerFactory starts the worker of index id.
	WorkerFactory func(ctx context.Context, id int) (Worker, error)
)

// request payloads

type NewTransport struct {
	Direction Direction `json:"direction" validate:"required,direction"`
}

func (nt NewTransport) Validate(validate *validator.Validate) error { return validate.Struct(nt) }

type ConnectTransport struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

func (ct ConnectTransport) Validate(validate *validator.Validate) error { return validate.Struct(ct) }

type NewProducer struct {
	Kind Kind `json:"kind" validate:"required,media_kind"`
}

func (np NewProducer) Validate(validate *validator.Validate) error { return validate.Struct(np) }

type NewConsumer struct {
	ProducerID string `json:"producerId" validate:"required,notblank"`
}

func (nc NewConsumer) Validate(validate *validator.Validate) error { return validate.Struct(nc) }

package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/core/session"
	"github.com/trezcool/masomo-live/testutil"
)

func TestMediaApi(t *testing.T) {
	fx := setup(t)
	t1 := testutil.Teacher("t1", "school-1")
	active := testutil.CreateSession(t, fx.sessRepo, t1, "algebra", session.StatusActive)
	teacherToken := getToken(t, fx.conf, t1)
	s1Token := getToken(t, fx.conf, testutil.Student("s1", "school-1"))
	path := func(action string) string { return sessionPath(active.ID, action) }
	wrongDirection := `{"error": "operation not allowed on a transport of this direction"}`

	notJoined := `{"error": "you have not joined this session"}`
	fx.run(t, []httpTest{
		{
			name:     "not joined",
			method:   http.MethodGet,
			path:     path("rtp-capabilities"),
			token:    s1Token,
			wantCode: http.StatusForbidden,
			wantData: notJoined,
		},
		{
			name:     "another school",
			method:   http.MethodGet,
			path:     path("rtp-capabilities"),
			token:    getToken(t, fx.conf, testutil.Student("s9", "school-2")),
			wantCode: http.StatusNotFound,
			wantData: `{"error": "session not found"}`,
		},
	})

	rec := fx.serve(http.MethodPost, path("join"), s1Token, joinBody(t, fingerprintA))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = fx.serve(http.MethodPost, path("join"), teacherToken, joinBody(t, fingerprintA))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// s2 already uses their only device slot elsewhere: the join is refused and no transport is handed out
	s2 := testutil.Student("s2", "school-1")
	s2Token := getToken(t, fx.conf, s2)
	testutil.CreateDevice(t, fx.devRepo, s2, fingerprintA, true, time.Now())
	rec = fx.serve(http.MethodPost, path("join"), s2Token, joinBody(t, fingerprintB))
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	fx.run(t, []httpTest{
		{
			name:     "transport after a refused join",
			method:   http.MethodPost,
			path:     path("transport"),
			body:     []byte(`{"direction": "send"}`),
			token:    s2Token,
			wantCode: http.StatusForbidden,
			wantData: notJoined,
		},
		{
			name:     "transport for a user who never joined",
			method:   http.MethodPost,
			path:     path("transport"),
			body:     []byte(`{"direction": "recv"}`),
			token:    getToken(t, fx.conf, testutil.Student("s3", "school-1")),
			wantCode: http.StatusForbidden,
			wantData: notJoined,
		},
	})

	rec = fx.serve(http.MethodGet, path("rtp-capabilities"), s1Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var caps media.RtpCapabilities
	decode(t, rec, &caps)
	assert.Equal(t, media.DefaultCodecs, caps.Codecs)

	fx.run(t, []httpTest{
		{
			name:     "invalid direction",
			method:   http.MethodPost,
			path:     path("transport"),
			body:     []byte(`{"direction": "both"}`),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: `{"direction": "direction must be one of send or recv"}`,
		},
		{
			name:     "missing direction",
			method:   http.MethodPost,
			path:     path("transport"),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: `{"direction": "this field is required"}`,
		},
	})

	var send, recv media.TransportParams
	rec = fx.serve(http.MethodPost, path("transport"), teacherToken, []byte(`{"direction": "send"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &send)
	assert.NotEmpty(t, send.ID)
	assert.NotEmpty(t, send.IceParameters.UsernameFragment)
	assert.NotEmpty(t, send.IceCandidates)
	assert.NotEmpty(t, send.DtlsParameters.Fingerprints)

	rec = fx.serve(http.MethodPost, path("transport"), s1Token, []byte(`{"direction": "recv"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &recv)
	assert.NotEqual(t, send.ID, recv.ID)

	dtls := `{"dtlsParameters": {"role": "client", "fingerprints": [{"algorithm": "sha-256", "value": "AB:CD"}]}}`
	fx.run(t, []httpTest{
		{
			name:     "connect without fingerprints",
			method:   http.MethodPost,
			path:     path("transport/" + send.ID + "/connect"),
			body:     []byte(`{"dtlsParameters": {"role": "client"}}`),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: `{"fingerprints": "this field is required"}`,
		},
		{
			name:     "connect unknown transport",
			method:   http.MethodPost,
			path:     path("transport/nope/connect"),
			body:     []byte(dtls),
			token:    teacherToken,
			wantCode: http.StatusNotFound,
			wantData: `{"error": "transport not found"}`,
		},
		{
			name:     "connect",
			method:   http.MethodPost,
			path:     path("transport/" + send.ID + "/connect"),
			body:     []byte(dtls),
			token:    teacherToken,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "invalid kind",
			method:   http.MethodPost,
			path:     path("transport/" + send.ID + "/produce"),
			body:     []byte(`{"kind": "screen"}`),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: `{"kind": "kind must be one of audio or video"}`,
		},
		{
			name:     "produce on a receiving transport",
			method:   http.MethodPost,
			path:     path("transport/" + recv.ID + "/produce"),
			body:     []byte(`{"kind": "audio"}`),
			token:    s1Token,
			wantCode: http.StatusBadRequest,
			wantData: wrongDirection,
		},
	})

	rec = fx.serve(http.MethodPost, path("transport/"+send.ID+"/produce"), teacherToken, []byte(`{"kind": "audio"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var prod media.ProducerInfo
	decode(t, rec, &prod)
	assert.NotEmpty(t, prod.ID)
	assert.Equal(t, media.KindAudio, prod.Kind)

	fx.run(t, []httpTest{
		{
			name:     "consume on a sending transport",
			method:   http.MethodPost,
			path:     path("transport/" + send.ID + "/consume"),
			body:     marshalObj(t, media.NewConsumer{ProducerID: prod.ID}),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: wrongDirection,
		},
		{
			name:     "consume unknown producer",
			method:   http.MethodPost,
			path:     path("transport/" + recv.ID + "/consume"),
			body:     []byte(`{"producerId": "nope"}`),
			token:    s1Token,
			wantCode: http.StatusNotFound,
			wantData: `{"error": "producer not found"}`,
		},
	})

	rec = fx.serve(http.MethodPost, path("transport/"+recv.ID+"/consume"), s1Token, marshalObj(t, media.NewConsumer{ProducerID: prod.ID}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cons media.ConsumerInfo
	decode(t, rec, &cons)
	assert.NotEmpty(t, cons.ID)
	assert.Equal(t, prod.ID, cons.ProducerID)
	assert.Equal(t, media.KindAudio, cons.Kind)

	rec = fx.serve(http.MethodPost, path("leave"), s1Token)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	fx.run(t, []httpTest{
		{
			name:     "left the session",
			method:   http.MethodGet,
			path:     path("rtp-capabilities"),
			token:    s1Token,
			wantCode: http.StatusForbidden,
			wantData: notJoined,
		},
	})

	// ending the session releases its room
	rec = fx.serve(http.MethodPost, path("end"), teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := fx.rooms.Room(active.RoomID)
	assert.Equal(t, media.ErrRoomNotFound, errors.Cause(err))
	fx.run(t, []httpTest{
		{
			name:     "session ended",
			method:   http.MethodGet,
			path:     path("rtp-capabilities"),
			token:    teacherToken,
			wantCode: http.StatusConflict,
			wantData: `{"error": "session is not active"}`,
		},
	})
}

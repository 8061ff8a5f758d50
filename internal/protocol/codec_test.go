package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSignalFrame(t *testing.T) {
	raw := []byte(`{"type":"signal","signal":{"senderId":"alice","receiverId":"bob",` +
		`"signalType":"offer","signalData":{"type":"offer","sdp":"v=0"},"callId":"c1"}}`)

	f, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, f.Signal)

	assert.Equal(t, FrameSignal, f.Type)
	assert.Equal(t, "alice", f.Signal.SenderID)
	assert.Equal(t, "bob", f.Signal.ReceiverID)
	assert.Equal(t, KindOffer, f.Signal.Kind)
	assert.Equal(t, "c1", f.Signal.CallID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(f.Signal.Data))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "missing receiver",
			raw:  `{"type":"signal","signal":{"senderId":"alice","signalType":"call-ended"}}`,
			want: ErrMissingParty,
		},
		{
			name: "self addressed",
			raw:  `{"type":"signal","signal":{"senderId":"a","receiverId":"a","signalType":"call-ended"}}`,
			want: ErrSelfAddress,
		},
		{
			name: "unknown kind",
			raw:  `{"type":"signal","signal":{"senderId":"a","receiverId":"b","signalType":"hello"}}`,
			want: ErrUnknownKind,
		},
		{
			name: "offer without data",
			raw:  `{"type":"signal","signal":{"senderId":"a","receiverId":"b","signalType":"offer","signalData":null}}`,
			want: ErrMissingData,
		},
		{
			name: "signal frame without body",
			raw:  `{"type":"signal"}`,
			want: ErrEmptyFrame,
		},
		{
			name: "notification without user",
			raw:  `{"type":"notification","notification":{"title":"x"}}`,
			want: ErrEmptyFrame,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeUnknownFrameType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestTerminalKindsDropPayload(t *testing.T) {
	data, err := Encode(SignalFrame(Message{
		SenderID:   "alice",
		ReceiverID: "bob",
		Kind:       KindCallEnded,
		Data:       json.RawMessage(`{"ignored":true}`),
	}))
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, f.Signal.Data)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	sig := generic["signal"].(map[string]any)
	assert.Nil(t, sig["signalData"], "call-ended must carry null signalData on the wire")
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, KindOffer.CarriesData())
	assert.True(t, KindIceCandidate.CarriesData())
	assert.False(t, KindCallRejected.CarriesData())
	assert.True(t, KindCallEnded.Terminal())
	assert.False(t, KindAnswer.Terminal())
	assert.False(t, Kind("offer ").Valid())
}

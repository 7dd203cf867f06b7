package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhaojing/internal/session"
)

func TestFrameEncodeDecode(t *testing.T) {
	body := []byte(`{"action":"GET"}`)
	raw, err := EncodeFrame(KindRequest, 7, body)
	require.NoError(t, err)
	assert.Len(t, raw, FrameHeaderSize+len(body))

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, KindRequest, frame.Kind)
	assert.Equal(t, uint32(7), frame.ID)
	assert.Equal(t, body, frame.Body)

	empty, err := EncodeFrame(KindResponse, 1, nil)
	require.NoError(t, err)
	frame, err = DecodeFrame(empty)
	require.NoError(t, err)
	assert.Nil(t, frame.Body)
	assert.Equal(t, "RESPONSE", frame.Kind.String())
}

func TestFrameRejectsMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte{0, 1, 0})
	assert.ErrorIs(t, err, ErrFrameTooSmall)

	raw, err := EncodeFrame(KindRequest, 1, []byte("abc"))
	require.NoError(t, err)

	_, err = DecodeFrame(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrInvalidFrame)

	bad := append([]byte(nil), raw...)
	bad[1] = 9
	_, err = DecodeFrame(bad)
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = EncodeFrame(KindRequest, 1, make([]byte, MaxFrameSize))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestMessages(t *testing.T) {
	data, err := json.Marshal(GetMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"GET"}`, string(data))

	data, err = json.Marshal(SetMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"SET"}`, string(data))

	ev, err := session.NewEventRecord(10, nil)
	require.NoError(t, err)
	msg, err := SaveRecordingMessage(session.NewPayload("https://x", time.UnixMilli(20), []session.EventRecord{ev}))
	require.NoError(t, err)

	payload, err := DecodePayload(msg)
	require.NoError(t, err)
	assert.Equal(t, "https://x", payload.URL)
	assert.Equal(t, int64(20), payload.Timestamp)
	require.Len(t, payload.Records, 1)

	_, err = DecodePayload(GetMessage())
	assert.Error(t, err)
	_, err = DecodePayload(Message{Action: ActionSaveRecording})
	assert.Error(t, err)
	_, err = DecodePayload(Message{Action: ActionSaveRecording, Data: json.RawMessage(`{"url":"u","records":[{"timestamp":1}]}`)})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	payload, err = DecodePayload(Message{Action: ActionSaveRecording, Data: json.RawMessage(`{"timestamp":5,"url":"u","duration":7,"records":[{"timestamp":100},{"timestamp":400}]}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(300), payload.Duration)

	hello, err := NewMessage(ActionHello, Hello{TabID: "t1", URL: "https://x"})
	require.NoError(t, err)
	h, err := DecodeHello(hello)
	require.NoError(t, err)
	assert.Equal(t, "t1", h.TabID)

	_, err = DecodeHello(Message{Action: ActionHello, Data: json.RawMessage(`{}`)})
	assert.Error(t, err)

	state, err := DecodeBool(json.RawMessage(`true`))
	require.NoError(t, err)
	assert.True(t, state)
	_, err = DecodeBool(nil)
	assert.Error(t, err)

	resp, err := DecodeSaveResponse(json.RawMessage(`{"success":false,"error":"full"}`))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "full", resp.Error)
}

func TestActions(t *testing.T) {
	assert.True(t, IsPageAction(ActionGet))
	assert.True(t, IsPageAction(ActionSet))
	assert.False(t, IsPageAction(ActionSaveRecording))
	assert.True(t, IsBackgroundAction(ActionSaveRecording))
	assert.True(t, IsBackgroundAction(ActionHello))
	assert.False(t, IsValidAction(Action("DELETE")))
}

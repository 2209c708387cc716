package bridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sightline-labs/sightline/pkg/bridge"
	"github.com/sightline-labs/sightline/pkg/domain"
)

type captureIngestor struct {
	events []domain.RawEvent
	err    error
}

func (c *captureIngestor) Ingest(raw domain.RawEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, raw)
	return nil
}

func TestReaderIngestsAudioEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"audio_event","id":"m1","timestamp":1500000,"session_id":"s1",` +
			`"payload":{"text":"hello world","language":"en","confidence":0.93,"start_time":0.0,"end_time":1.2}}`,
		`this line is not json`,
		`{"type":"warp_drive","id":"m2","timestamp":1600000}`,
		`{"type":"processing_status","id":"m3","timestamp":1700000,"payload":{"is_recording":true,"queue_size":2,"total_processed":10}}`,
		``,
		`{"type":"audio_event","id":"m4","timestamp":2500000,"payload":{"text":"open settings","language":"en","confidence":0.88,"start_time":1.5,"end_time":2.1}}`,
	}, "\n")

	ing := &captureIngestor{}
	r := bridge.NewReader(strings.NewReader(input), nil, ing, zaptest.NewLogger(t))

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, ing.events, 2)
	first := ing.events[0]
	assert.Equal(t, domain.SourceAudio, first.SourceKind)
	assert.Equal(t, int64(1_500_000), first.RawTimestamp)
	assert.Equal(t, bridge.SourceClockID, first.SourceClockID)
	assert.Equal(t, "hello world", first.Payload["text"])
	assert.Equal(t, "speech_segment", first.Payload["type"])
	assert.Equal(t, "s1", first.Payload["session_id"])

	seen, skipped, ingested := r.Counters()
	assert.Equal(t, uint64(5), seen)
	assert.Equal(t, uint64(2), skipped)
	assert.Equal(t, uint64(2), ingested)
}

func TestReaderAnswersPing(t *testing.T) {
	input := `{"type":"ping","id":"p1","timestamp":123,"session_id":"s1"}` + "\n"

	var out bytes.Buffer
	r := bridge.NewReader(strings.NewReader(input), &out, &captureIngestor{}, zaptest.NewLogger(t))
	require.NoError(t, r.Run(context.Background()))

	var reply bridge.Envelope
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &reply))
	assert.Equal(t, bridge.MessagePong, reply.Type)
	assert.Equal(t, float64(123), reply.Timestamp)
	assert.Equal(t, "s1", reply.SessionID)
	assert.NotEmpty(t, reply.ID)
}

func TestReaderNilOutSkipsReply(t *testing.T) {
	input := `{"type":"ping","id":"p1","timestamp":123}` + "\n"
	r := bridge.NewReader(strings.NewReader(input), nil, &captureIngestor{}, zaptest.NewLogger(t))
	require.NoError(t, r.Run(context.Background()))
}

func TestReaderCountsRejectedEvents(t *testing.T) {
	input := `{"type":"audio_event","id":"m1","timestamp":1500000,"payload":{"text":"hi"}}` + "\n"

	ing := &captureIngestor{err: errors.New("queue full")}
	r := bridge.NewReader(strings.NewReader(input), nil, ing, zaptest.NewLogger(t))
	require.NoError(t, r.Run(context.Background()))

	seen, skipped, ingested := r.Counters()
	assert.Equal(t, uint64(1), seen)
	assert.Equal(t, uint64(1), skipped)
	assert.Zero(t, ingested)
}

func TestReaderControlMessages(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"init","id":"i1","timestamp":1}`,
		`{"type":"error","id":"e1","timestamp":2,"payload":{"error_type":"model_load","message":"weights missing"}}`,
		`{"type":"shutdown","id":"s1","timestamp":3}`,
	}, "\n")

	ing := &captureIngestor{}
	r := bridge.NewReader(strings.NewReader(input), nil, ing, zaptest.NewLogger(t))
	require.NoError(t, r.Run(context.Background()))

	seen, skipped, ingested := r.Counters()
	assert.Equal(t, uint64(3), seen)
	assert.Zero(t, skipped)
	assert.Zero(t, ingested)
	assert.Empty(t, ing.events)
}

package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// SourceClockID identifies the speech pipeline's clock to the time model.
const SourceClockID = "audio_pipeline"

// Ingestor is the slice of the pipeline the bridge needs.
type Ingestor interface {
	Ingest(raw domain.RawEvent) error
}

// Reader decodes IPC envelopes from the speech pipeline and feeds audio
// events into the core. Malformed frames are counted and skipped; the loop
// survives anything short of EOF or cancellation.
type Reader struct {
	in       io.Reader
	out      io.Writer // pong/ack side, may be nil
	ingestor Ingestor
	logger   *zap.Logger

	framesSeen    atomic.Uint64
	framesSkipped atomic.Uint64
	ingested      atomic.Uint64
}

// NewReader builds a bridge over the pipeline's stdout (in) and stdin (out).
// out may be nil when control replies are not wanted.
func NewReader(in io.Reader, out io.Writer, ingestor Ingestor, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{in: in, out: out, ingestor: ingestor, logger: logger}
}

// Run reads envelopes until EOF or context cancellation. The returned error
// is nil on EOF.
func (r *Reader) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r.framesSeen.Add(1)

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			r.framesSkipped.Add(1)
			r.logger.Debug("skipping malformed IPC frame", zap.Error(err))
			continue
		}
		r.handle(env)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (r *Reader) handle(env Envelope) {
	switch env.Type {
	case MessageAudioEvent:
		r.handleAudioEvent(env)
	case MessagePing:
		r.reply(Envelope{Type: MessagePong, ID: uuid.NewString(), Timestamp: env.Timestamp, SessionID: env.SessionID})
	case MessageError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			r.logger.Warn("speech pipeline reported an error",
				zap.String("error_type", p.ErrorType),
				zap.String("message", p.Message),
			)
		}
	case MessageProcessingStatus:
		var p StatusPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			r.logger.Debug("speech pipeline status",
				zap.Bool("recording", p.IsRecording),
				zap.Int("queue_size", p.QueueSize),
				zap.Int("total_processed", p.TotalProcessed),
			)
		}
	case MessageInit, MessageShutdown, MessagePong:
		r.logger.Debug("speech pipeline control message", zap.String("type", string(env.Type)))
	default:
		r.framesSkipped.Add(1)
		r.logger.Debug("unknown IPC message type", zap.String("type", string(env.Type)))
	}
}

func (r *Reader) handleAudioEvent(env Envelope) {
	var p AudioEventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		r.framesSkipped.Add(1)
		r.logger.Debug("skipping malformed audio event", zap.Error(err))
		return
	}

	raw := domain.RawEvent{
		SourceKind:    domain.SourceAudio,
		RawTimestamp:  int64(env.Timestamp),
		SourceClockID: SourceClockID,
		Payload: map[string]any{
			"type":       "speech_segment",
			"text":       p.Text,
			"language":   p.Language,
			"confidence": p.Confidence,
			"speaker_id": p.SpeakerID,
			"start_time": p.StartTime,
			"end_time":   p.EndTime,
			"session_id": p.SessionID,
		},
	}
	if err := r.ingestor.Ingest(raw); err != nil {
		r.framesSkipped.Add(1)
		r.logger.Warn("audio event rejected by pipeline", zap.Error(err))
		return
	}
	r.ingested.Add(1)
}

func (r *Reader) reply(env Envelope) {
	if r.out == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := r.out.Write(data); err != nil {
		r.logger.Debug("failed to write IPC reply", zap.Error(err))
	}
}

// Counters reports frames seen, skipped, and events ingested.
func (r *Reader) Counters() (seen, skipped, ingested uint64) {
	return r.framesSeen.Load(), r.framesSkipped.Load(), r.ingested.Load()
}

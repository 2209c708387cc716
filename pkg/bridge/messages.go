// Package bridge speaks the JSON-line IPC protocol of the external speech
// pipeline. The pipeline process writes one envelope per line on stdout;
// the bridge turns audio events into ingestion records and answers control
// messages. Speech recognition itself is out of scope: only the boundary is
// implemented here.
package bridge

import "encoding/json"

// MessageType enumerates the IPC envelope types.
type MessageType string

const (
	MessageInit             MessageType = "init"
	MessageShutdown         MessageType = "shutdown"
	MessagePing             MessageType = "ping"
	MessagePong             MessageType = "pong"
	MessageAudioEvent       MessageType = "audio_event"
	MessageProcessingStatus MessageType = "processing_status"
	MessageError            MessageType = "error"
)

// Envelope is the base IPC message. Timestamp is microseconds on the speech
// pipeline's clock; payload decoding depends on Type.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp float64         `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"session_id,omitempty"`
}

// AudioEventPayload is a recognized speech segment with optional speaker
// attribution. Start and End are seconds within the source audio.
type AudioEventPayload struct {
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	Confidence     float64 `json:"confidence"`
	SpeakerID      string  `json:"speaker_id,omitempty"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	SessionID      string  `json:"session_id,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
}

// StatusPayload reports the speech pipeline's health.
type StatusPayload struct {
	IsRecording           bool    `json:"is_recording"`
	IsProcessing          bool    `json:"is_processing"`
	QueueSize             int     `json:"queue_size"`
	TotalProcessed        int     `json:"total_processed"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	LastError             string  `json:"last_error,omitempty"`
}

// ErrorPayload carries a pipeline-side failure.
type ErrorPayload struct {
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

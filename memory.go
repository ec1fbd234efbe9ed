package relay

import "context"

// Memory is the conversational-memory collaborator. The core never owns
// memory persistence; it only consumes context and saves turns. Any error
// from a Memory implementation is swallowed by the callers — memory must
// never make a router call fail.
type Memory interface {
	// MemoryContext returns saved context to prefix onto prompt. Empty
	// string means no enrichment.
	MemoryContext(ctx context.Context, prompt string) (string, error)

	// SaveTurn records one user/assistant exchange.
	SaveTurn(ctx context.Context, userText, assistantText string) error
}

// Transcriber converts an audio blob to text.
type Transcriber interface {
	Transcribe(ctx context.Context, blob []byte) (string, error)
}

// ImageAnalyzer describes the content of an image blob.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, blob []byte) (string, error)
}

// VideoAnalysis is the layered result of decoding a video blob.
type VideoAnalysis struct {
	MetadataSummary    string
	Transcript         string
	VisualSummary      string
	DirectVideoSummary string
}

// VideoDecoder extracts metadata, transcript, and visual summaries from a
// video blob.
type VideoDecoder interface {
	DecodeVideo(ctx context.Context, blob []byte) (VideoAnalysis, error)
}

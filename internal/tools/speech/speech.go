// Package speech provides text-to-speech and transcription tools backed by
// the OpenAI audio API.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/config"
)

const (
	// maxTextLength is the OpenAI speech input limit.
	maxTextLength = 4096

	// maxAudioBytes is the OpenAI transcription upload limit.
	maxAudioBytes = 25 << 20
)

// Client is the subset of the OpenAI client the tools use.
type Client interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Options configures the speech tools.
type Options struct {
	Client             Client
	TTSModel           string
	Voice              string
	TranscriptionModel string
}

// NewClient builds an OpenAI client from config.
func NewClient(cfg config.SpeechConfig) (*openai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("speech: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg), nil
}

// Tools returns text_to_speech and transcribe_audio.
func Tools(opts Options) ([]agent.Tool, error) {
	if opts.Client == nil {
		return nil, errors.New("speech client is required")
	}
	if opts.TTSModel == "" {
		opts.TTSModel = string(openai.TTSModel1)
	}
	if opts.Voice == "" {
		opts.Voice = string(openai.VoiceAlloy)
	}
	if opts.TranscriptionModel == "" {
		opts.TranscriptionModel = openai.Whisper1
	}
	return []agent.Tool{
		&TextToSpeechTool{client: opts.Client, model: opts.TTSModel, voice: opts.Voice},
		&TranscribeTool{client: opts.Client, model: opts.TranscriptionModel},
	}, nil
}

// TextToSpeechTool implements text_to_speech.
type TextToSpeechTool struct {
	client Client
	model  string
	voice  string
}

func (t *TextToSpeechTool) Name() string { return "text_to_speech" }

func (t *TextToSpeechTool) Description() string {
	return "Convert text to spoken audio. Returns MP3 audio as base64."
}

func (t *TextToSpeechTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": { "type": "string", "minLength": 1 },
    "voice": { "type": "string", "enum": ["alloy", "echo", "fable", "onyx", "nova", "shimmer"] }
  },
  "required": ["text"],
  "additionalProperties": false
}`)
}

type speechOutput struct {
	Format  string `json:"format"`
	Base64  string `json:"base64"`
	DataURI string `json:"dataUri"`
}

func (t *TextToSpeechTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var input struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return agent.InvalidInput(t.Name(), "text is required"), nil
	}
	if runes := []rune(text); len(runes) > maxTextLength {
		text = string(runes[:maxTextLength])
	}
	voice := input.Voice
	if voice == "" {
		voice = t.voice
	}

	resp, err := t.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(t.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return agent.Failure(t.Name(), "speech synthesis failed: %v", err), nil
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return agent.Failure(t.Name(), "read synthesized audio: %v", err), nil
	}
	encoded := base64.StdEncoding.EncodeToString(audio)
	return agent.JSONResult(speechOutput{
		Format:  "mp3",
		Base64:  encoded,
		DataURI: "data:audio/mpeg;base64," + encoded,
	})
}

// TranscribeTool implements transcribe_audio.
type TranscribeTool struct {
	client Client
	model  string
}

func (t *TranscribeTool) Name() string { return "transcribe_audio" }

func (t *TranscribeTool) Description() string {
	return "Transcribe base64-encoded audio to text."
}

func (t *TranscribeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "audioBase64": { "type": "string", "minLength": 1 },
    "mimeType": { "type": "string", "description": "e.g. audio/mpeg, audio/wav, audio/webm" },
    "language": { "type": "string", "description": "ISO 639-1 code" }
  },
  "required": ["audioBase64"],
  "additionalProperties": false
}`)
}

func (t *TranscribeTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var input struct {
		AudioBase64 string `json:"audioBase64"`
		MimeType    string `json:"mimeType"`
		Language    string `json:"language"`
	}
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	encoded := input.AudioBase64
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		if input.MimeType == "" {
			input.MimeType = encoded[len("data:"):i]
		}
		encoded = encoded[i+len(";base64,"):]
	}
	audio, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return agent.InvalidInput(t.Name(), "audioBase64 is not valid base64"), nil
	}
	if len(audio) == 0 {
		return agent.InvalidInput(t.Name(), "audio is empty"), nil
	}
	if len(audio) > maxAudioBytes {
		return agent.InvalidInput(t.Name(), "audio exceeds %d MB", maxAudioBytes>>20), nil
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio." + extensionFor(input.MimeType),
		Reader:   bytes.NewReader(audio),
		Language: input.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return agent.Failure(t.Name(), "transcription failed: %v", err), nil
	}
	return agent.JSONResult(struct {
		Text string `json:"text"`
	}{resp.Text})
}

// extensionFor picks the upload file extension the API uses to detect the
// audio format.
func extensionFor(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/flac":
		return "flac"
	default:
		return "mp3"
	}
}

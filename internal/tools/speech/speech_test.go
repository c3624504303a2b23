package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/config"
)

type audioAPI struct {
	speechBody map[string]any
	filename   string
	language   string
	audio      []byte
	fail       bool
}

func (a *audioAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
		return
	}
	switch r.URL.Path {
	case "/v1/audio/speech":
		_ = json.NewDecoder(r.Body).Decode(&a.speechBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	case "/v1/audio/transcriptions":
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.filename = header.Filename
		a.audio, _ = io.ReadAll(file)
		a.language = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello from the meeting"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTools(t *testing.T, api *audioAPI) (tts, transcribe agent.Tool) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.SpeechConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tools, err := Tools(Options{Client: client})
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	return tools[0], tools[1]
}

func execute(t *testing.T, tool agent.Tool, params string) *agent.ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), agent.Invocation{Params: json.RawMessage(params)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(config.SpeechConfig{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Tools(Options{}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestTextToSpeech(t *testing.T) {
	api := &audioAPI{}
	tts, _ := newTools(t, api)

	res := execute(t, tts, `{"text":"Your invoice is overdue.","voice":"nova"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	var out speechOutput
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatal(err)
	}
	audio, _ := base64.StdEncoding.DecodeString(out.Base64)
	if string(audio) != "ID3-fake-mp3" || out.Format != "mp3" || !strings.HasPrefix(out.DataURI, "data:audio/mpeg;base64,") {
		t.Errorf("output = %+v", out)
	}
	if api.speechBody["model"] != string(openai.TTSModel1) || api.speechBody["voice"] != "nova" || api.speechBody["input"] != "Your invoice is overdue." {
		t.Errorf("request = %v", api.speechBody)
	}
}

func TestTranscribe(t *testing.T) {
	api := &audioAPI{}
	_, transcribe := newTools(t, api)

	payload := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString([]byte("RIFF-fake"))
	res := execute(t, transcribe, `{"audioBase64":"`+payload+`","language":"de"}`)
	if res.Content != `{"text":"hello from the meeting"}` {
		t.Fatalf("content = %s", res.Content)
	}
	if api.filename != "audio.wav" || string(api.audio) != "RIFF-fake" || api.language != "de" {
		t.Errorf("upload = %s %q %s", api.filename, api.audio, api.language)
	}
}

func TestProviderFailure(t *testing.T) {
	api := &audioAPI{fail: true}
	tts, transcribe := newTools(t, api)

	for _, res := range []*agent.ToolResult{
		execute(t, tts, `{"text":"hi"}`),
		execute(t, transcribe, `{"audioBase64":"`+base64.StdEncoding.EncodeToString([]byte("x"))+`"}`),
	} {
		if !res.IsError || !strings.Contains(res.Content, `"error":true`) {
			t.Errorf("content = %s", res.Content)
		}
	}
}

func TestTranscribeRejectsBadAudio(t *testing.T) {
	_, transcribe := newTools(t, &audioAPI{})
	for _, params := range []string{`{"audioBase64":"%%%"}`, `{"audioBase64":"  "}`} {
		res := execute(t, transcribe, params)
		if !res.IsError || !strings.Contains(res.Content, "invalid_input") {
			t.Errorf("%s: content = %s", params, res.Content)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"":                         "mp3",
		"audio/mpeg":               "mp3",
		"audio/webm;codecs=opus":   "webm",
		"AUDIO/WAV":                "wav",
		"audio/x-m4a":              "m4a",
		"application/octet-stream": "mp3",
	}
	for in, want := range tests {
		if got := extensionFor(in); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}

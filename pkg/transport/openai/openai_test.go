package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
	"github.com/SocialNOT/AgainINDIA/pkg/transport/openai"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSession reads session.update and confirms it.
func acceptSession(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	readJSON(t, conn, &msg)
	writeJSON(t, conn, map[string]any{"type": "session.updated"})
	return msg
}

func next(t *testing.T, c transport.Conn) transport.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatal("message channel closed unexpectedly")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return nil
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestOpen_SessionUpdate(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if m := r.URL.Query().Get("model"); m != "rt-model" {
			t.Errorf("model = %q, want rt-model", m)
		}
		got <- acceptSession(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)), openai.WithModel("rt-model"))
	c, err := tr.Open(context.Background(), transport.Config{
		transport.KeyVoice:        "sage",
		transport.KeyInstructions: "Be concise.",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	msg := <-got
	if msg["type"] != "session.update" {
		t.Fatalf("type = %v, want session.update", msg["type"])
	}
	sess := msg["session"].(map[string]any)
	if sess["voice"] != "sage" || sess["instructions"] != "Be concise." {
		t.Errorf("session = %v", sess)
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v/%v", sess["input_audio_format"], sess["output_audio_format"])
	}
	if _, ok := sess["input_audio_transcription"]; !ok {
		t.Error("input_audio_transcription not requested")
	}
}

func TestOpen_Rejected(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "invalid voice"}})
	})

	_, err := openai.New("k", openai.WithBaseURL(wsURL(srv))).Open(context.Background(), transport.Config{})
	if err == nil || !strings.Contains(err.Error(), "invalid voice") {
		t.Fatalf("err = %v, want invalid voice", err)
	}
}

func TestSend_ResamplesTo24k(t *testing.T) {
	t.Parallel()

	got := make(chan []byte, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		var msg struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		readJSON(t, conn, &msg)
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q", msg.Type)
		}
		data, _ := base64.StdEncoding.DecodeString(msg.Audio)
		got <- data
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := openai.New("k", openai.WithBaseURL(wsURL(srv))).Open(context.Background(), transport.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	chunk, _ := audio.Encode(make([]int16, 160), 16000)
	if err := c.Send(context.Background(), chunk); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case data := <-got:
		// 160 samples at 16 kHz → 240 samples at 24 kHz.
		if len(data) != 480 {
			t.Errorf("appended %d bytes, want 480", len(data))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for append")
	}
}

func TestReceive_EventMapping(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x00}
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.delta", "delta": "Who "})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "Who are you?"})
		writeJSON(t, conn, map[string]any{"type": "response.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "I am"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		// Not responding any more: speech_started is not an interruption.
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "boom"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := openai.New("k", openai.WithBaseURL(wsURL(srv))).Open(context.Background(), transport.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if m, ok := next(t, c).(transport.InterimTranscript); !ok || m.Speaker != transport.SpeakerUser || m.Text != "Who " || !m.Delta {
		t.Errorf("user delta = %#v", m)
	}
	if m, ok := next(t, c).(transport.InterimTranscript); !ok || m.Text != "Who are you?" || m.Delta {
		t.Errorf("user completed = %#v, want cumulative transcript", m)
	}
	if m, ok := next(t, c).(transport.AudioChunk); !ok || string(m.Chunk.Data) != string(pcm) || m.Chunk.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("audio = %#v", m)
	}
	if m, ok := next(t, c).(transport.InterimTranscript); !ok || m.Speaker != transport.SpeakerRemote || m.Text != "I am" {
		t.Errorf("remote delta = %#v", m)
	}
	if _, ok := next(t, c).(transport.Interrupted); !ok {
		t.Error("expected Interrupted")
	}
	if _, ok := next(t, c).(transport.TurnComplete); !ok {
		t.Error("expected TurnComplete")
	}
	if m, ok := next(t, c).(transport.Error); !ok || !strings.Contains(m.Reason, "boom") {
		t.Errorf("error = %#v", m)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := openai.New("k", openai.WithBaseURL(wsURL(srv))).Open(context.Background(), transport.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Send(context.Background(), audio.Chunk{Data: []byte{0, 0}}); err != transport.ErrClosed {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

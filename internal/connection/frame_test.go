package connection

import (
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantKind  FrameKind
		wantEvent string
		wantErr   bool
	}{
		{name: "pong", data: `{"type":"pong"}`, wantKind: KindPong},
		{name: "ping", data: `{"type":"ping"}`, wantKind: KindPing},
		{name: "event", data: `{"event":"progress","percent":50}`, wantKind: KindApplication, wantEvent: "progress"},
		{name: "typed application", data: `{"type":"chapter_updated","id":1}`, wantKind: KindApplication},
		{name: "non-string event", data: `{"event":5}`, wantKind: KindApplication},
		{name: "leading whitespace", data: "  \n{\"event\":\"done\"}", wantKind: KindApplication, wantEvent: "done"},
		{name: "invalid json", data: `{"event":`, wantErr: true},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "array", data: `[1,2]`, wantErr: true},
		{name: "null", data: `null`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr, err := ParseFrame([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("err = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrame failed: %v", err)
			}
			if fr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", fr.Kind, tt.wantKind)
			}
			if fr.Event != tt.wantEvent {
				t.Errorf("Event = %q, want %q", fr.Event, tt.wantEvent)
			}
		})
	}
}

func TestFrame_IsControl(t *testing.T) {
	if !(Frame{Kind: KindPong}).IsControl() {
		t.Error("pong should be a control frame")
	}
	if (Frame{Kind: KindApplication}).IsControl() {
		t.Error("application frame should not be a control frame")
	}
}

func TestFrame_Decode(t *testing.T) {
	fr, err := ParseFrame([]byte(`{"event":"completed","task_id":"42","result":{"chapters":3}}`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}

	var msg struct {
		TaskID string `json:"task_id"`
		Result struct {
			Chapters int `json:"chapters"`
		} `json:"result"`
	}
	if err := fr.Decode(&msg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.TaskID != "42" {
		t.Errorf("TaskID = %q, want %q", msg.TaskID, "42")
	}
	if msg.Result.Chapters != 3 {
		t.Errorf("Chapters = %d, want 3", msg.Result.Chapters)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func encode(t *testing.T, msg Message) string {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestProcessFiltersAndDedupes(t *testing.T) {
	n := NewRedisNotifier(nil, "device-a", zerolog.New(io.Discard))
	pushedAt := time.Now().UnixNano()

	tests := []struct {
		name    string
		payload string
		want    bool
		wantErr bool
	}{
		{name: "own push", payload: encode(t, Message{DocumentID: "doc", DeviceID: "device-a", PushedAt: pushedAt})},
		{name: "other document", payload: encode(t, Message{DocumentID: "other", DeviceID: "device-b", PushedAt: pushedAt})},
		{name: "foreign push", payload: encode(t, Message{DocumentID: "doc", DeviceID: "device-b", PushedAt: pushedAt}), want: true},
		{name: "duplicate", payload: encode(t, Message{DocumentID: "doc", DeviceID: "device-b", PushedAt: pushedAt})},
		{name: "later push", payload: encode(t, Message{DocumentID: "doc", DeviceID: "device-b", PushedAt: pushedAt + 1}), want: true},
		{name: "incomplete", payload: `{"document_id":"doc"}`, wantErr: true},
		{name: "garbage", payload: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		got, err := n.process(tt.payload, "doc")
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestPublishRequiresClient(t *testing.T) {
	var n *RedisNotifier
	if err := n.Publish(context.Background(), "doc"); err == nil {
		t.Fatalf("expected error from nil notifier")
	}
}

package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWithHeader(t *testing.T) {
	tests := []struct {
		name     string
		headers  []struct{ key, value string }
		expected map[string]string
	}{
		{
			name:     "single header",
			headers:  []struct{ key, value string }{{"X-Custom", "test"}},
			expected: map[string]string{"X-Custom": "test"},
		},
		{
			name: "multiple headers",
			headers: []struct{ key, value string }{
				{"X-First", "first"},
				{"X-Second", "second"},
			},
			expected: map[string]string{"X-First": "first", "X-Second": "second"},
		},
		{
			name: "overwrite header",
			headers: []struct{ key, value string }{
				{"X-Key", "original"},
				{"X-Key", "updated"},
			},
			expected: map[string]string{"X-Key": "updated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &publishOptions{}

			for _, h := range tt.headers {
				WithHeader(h.key, h.value)(opts)
			}

			for k, v := range tt.expected {
				if opts.headers[k] != v {
					t.Errorf("expected header %q=%q, got %q", k, v, opts.headers[k])
				}
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(SubjectCycleCompleted, []byte(`{}`), WithHeader(HeaderCycleID, "c-1"))

	if msg.Subject != SubjectCycleCompleted {
		t.Errorf("expected subject %q, got %q", SubjectCycleCompleted, msg.Subject)
	}
	if string(msg.Data) != "{}" {
		t.Errorf("expected data {}, got %q", string(msg.Data))
	}
	if msg.Metadata[HeaderCycleID] != "c-1" {
		t.Errorf("expected cycle header c-1, got %q", msg.Metadata[HeaderCycleID])
	}
}

func TestNewMessage_NoOptions(t *testing.T) {
	msg := NewMessage(SubjectCycleFailed, nil)
	if msg.Metadata != nil {
		t.Errorf("expected nil metadata, got %v", msg.Metadata)
	}
}

func TestSubjects_Namespace(t *testing.T) {
	prefix := strings.TrimSuffix(SubjectAll, ">")
	for _, s := range []string{SubjectWatermarkAdvanced, SubjectCycleCompleted, SubjectCycleFailed} {
		if !strings.HasPrefix(s, prefix) {
			t.Errorf("subject %q is not matched by %q", s, SubjectAll)
		}
		if strings.Count(s, ".") != 2 {
			t.Errorf("subject %q should have three tokens", s)
		}
	}
}

func TestCycleCompletedEvent_JSON(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(CycleCompletedEvent{
		CycleID:        "c-1",
		Table:          "deltafile_analytics",
		Rows:           5,
		Flushes:        3,
		WatermarkAfter: at,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["watermark_after"] != "2024-03-01T12:00:00Z" {
		t.Errorf("unexpected watermark_after %v", fields["watermark_after"])
	}
	if fields["flushes"] != float64(3) {
		t.Errorf("unexpected flushes %v", fields["flushes"])
	}
}

type stubClient struct{ connected bool }

func (s *stubClient) Publish(context.Context, string, []byte) error { return nil }
func (s *stubClient) PublishMsg(context.Context, *Message) error { return nil }
func (s *stubClient) Subscribe(string, MessageHandler) (Subscription, error) { return nil, nil }
func (s *stubClient) Close() error { return nil }
func (s *stubClient) Drain() error { return nil }
func (s *stubClient) IsConnected() bool { return s.connected }

func TestCheckClientHealth(t *testing.T) {
	if got := CheckClientHealth(nil); got.Connected || got.Error == "" {
		t.Errorf("nil client should be unhealthy, got %+v", got)
	}
	if got := CheckClientHealth(&stubClient{connected: false}); got.Connected {
		t.Errorf("disconnected client should be unhealthy, got %+v", got)
	}
	if got := CheckClientHealth(&stubClient{connected: true}); !got.Connected || got.Error != "" {
		t.Errorf("connected client should be healthy, got %+v", got)
	}
}

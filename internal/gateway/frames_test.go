package gateway

import "testing"

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name string
		data string
		ok   bool
	}{
		{"event frame", `{"type":"event","event":"agent","payload":{"runId":"r1"},"seq":3}`, true},
		{"response frame", `{"type":"res","id":"7","ok":true,"payload":{"type":"hello-ok"}}`, true},
		{"rejected response", `{"type":"res","id":"7","ok":false,"error":{"message":"denied"}}`, true},
		{"missing type", `{"event":"agent"}`, false},
		{"not json", `{{{`, false},
		{"empty", ``, false},
		{"json scalar", `42`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := decodeEnvelope([]byte(tt.data))
			if (env != nil) != tt.ok {
				t.Errorf("decodeEnvelope(%q) = %v, want ok=%v", tt.data, env, tt.ok)
			}
		})
	}
}

func TestDecodeEnvelope_Fields(t *testing.T) {
	env := decodeEnvelope([]byte(`{"type":"event","event":"agent","payload":{"runId":"r1"},"seq":9,"stateVersion":2}`))
	if env == nil {
		t.Fatal("expected envelope")
	}
	if env.Event != "agent" || env.Seq != 9 || env.StateVersion != 2 {
		t.Errorf("unexpected fields: %+v", env)
	}
	if env.Payload["runId"] != "r1" {
		t.Errorf("payload not decoded: %v", env.Payload)
	}
}

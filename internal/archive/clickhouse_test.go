package archive

import (
	"testing"

	"go.uber.org/zap"
)

func TestWriteDropAccounting(t *testing.T) {
	// No flush loop: every record stays in the buffer, so overflow is
	// deterministic.
	w := &ClickHouseWriter{
		buffer: make(chan *AlertRecord, 2),
		logger: zap.NewNop(),
	}

	for i := 0; i < 5; i++ {
		w.Write(&AlertRecord{EventID: "evt"})
	}

	if got := w.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if got := len(w.buffer); got != 2 {
		t.Errorf("buffered = %d, want 2", got)
	}
}

package power_test

import (
	"testing"

	"github.com/micro-nova/lpaplayer/internal/power"
)

var _ power.Lock = (*power.Logind)(nil)
var _ power.Lock = (*power.Noop)(nil)

func TestNoop_Idempotent(t *testing.T) {
	var n power.Noop
	n.Acquire()
	n.Acquire()
	if !n.Held() || n.Acquires() != 1 {
		t.Errorf("after double Acquire held=%v acquires=%d, want true 1", n.Held(), n.Acquires())
	}
	n.Release()
	n.Release()
	if n.Held() {
		t.Error("Held() = true after Release")
	}
}

func TestLogind_ReleaseWithoutAcquire(t *testing.T) {
	l := power.NewLogind("lpaplayer-test", "test")
	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

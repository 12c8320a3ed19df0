//go:build unix

package audit

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

func TestAppendGivesUpOnHeldLock(t *testing.T) {
	restore := lockTimeout
	lockTimeout = 50 * time.Millisecond
	t.Cleanup(func() { lockTimeout = restore })

	l, path := newTestLog(t)
	defer l.Close()

	// A stuck writer holding the lock through its own descriptor.
	other, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if err := syscall.Flock(int(other.Fd()), syscall.LOCK_EX); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err = l.Append(testEntry("deny"))
	if !errors.Is(err, errLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("append waited %v, expected to give up near %v", waited, lockTimeout)
	}

	// The recorder counts the failure and still hands back the record.
	obs := &countingObserver{}
	r := NewRecorder(LevelAll, l, WithObserver(obs))
	ref := model.RuleRef{ID: "rm", Effect: model.EffectDeny}
	if rec := r.Record(model.Denied("Bash", ref), bashInvocation("rm -rf /")); rec == nil {
		t.Error("expected the attempted record")
	}
	if obs.failed != 1 || obs.written != 0 {
		t.Errorf("expected one counted failure, got %+v", obs)
	}

	syscall.Flock(int(other.Fd()), syscall.LOCK_UN)
	if err := l.Append(testEntry("deny")); err != nil {
		t.Fatalf("append after release: %v", err)
	}
	if vr := Verify(path); !vr.Valid || vr.Lines != 1 {
		t.Errorf("expected one chained record, got %+v", vr)
	}
}

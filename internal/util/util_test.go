package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBuildObjectKey(t *testing.T) {
	key := BuildObjectKey("/offsite/esdb/", "backup-20250101-120000.tar.gz", true)
	if key != "offsite/esdb/backup-20250101-120000.tar.gz.enc" {
		t.Fatalf("unexpected key: %s", key)
	}
	if got := BuildObjectKey("", "backup-20250101-120000.tar.gz", false); got != "backup-20250101-120000.tar.gz" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestArchiveFromKey(t *testing.T) {
	name, enc := ArchiveFromKey("offsite/backup-20250101-120000.tar.gz.enc")
	if name != "backup-20250101-120000.tar.gz" || !enc {
		t.Fatalf("unexpected parse: %s %v", name, enc)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPoll(t *testing.T) {
	n := 0
	if !Poll(context.Background(), time.Millisecond, time.Second, func() bool { n++; return n == 3 }) {
		t.Fatalf("expected condition to be met")
	}
	if Poll(context.Background(), 5*time.Millisecond, 20*time.Millisecond, func() bool { return false }) {
		t.Fatalf("expected timeout")
	}
}

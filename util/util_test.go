package util

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEvent(t *testing.T) {
	e := NewEvent()
	if e.HasBeenNotified() {
		t.Fatal("new event already notified")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Wait(ctx); err == nil {
		t.Error("Wait() returned before Notify()")
	}

	done := make(chan struct{})
	go func() {
		e.Wait(context.Background())
		close(done)
	}()
	e.Notify()
	e.Notify()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released")
	}
	if !e.HasBeenNotified() {
		t.Error("HasBeenNotified() = false after Notify()")
	}
}

func TestLocateFFmpegFromEnv(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FFMPEG", bin)
	if p, err := LocateFFmpeg(); err != nil || p != bin {
		t.Errorf("LocateFFmpeg() = %q, %v", p, err)
	}

	t.Setenv("FFMPEG", dir)
	if _, err := LocateFFmpeg(); err == nil {
		t.Error("LocateFFmpeg() accepted a directory")
	}

	t.Setenv("FFMPEG", filepath.Join(dir, "missing"))
	if _, err := LocateFFmpeg(); err == nil {
		t.Error("LocateFFmpeg() accepted a missing file")
	}
}

package optimize

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFramePool_ReadLimited(t *testing.T) {
	pool := NewFramePool(16, 1024)

	buf, ok, err := pool.ReadLimited(strings.NewReader(`{"type":"ping"}`), 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("frame under the limit reported as oversized")
	}
	if buf.String() != `{"type":"ping"}` {
		t.Errorf("got %q", buf.String())
	}
	pool.Put(buf)

	buf, ok, err = pool.ReadLimited(strings.NewReader(strings.Repeat("x", 65)), 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("frame over the limit reported as fitting")
	}
	if buf.Len() != 65 {
		t.Errorf("expected to stop after limit+1 bytes, read %d", buf.Len())
	}
	pool.Put(buf)

	buf, ok, err = pool.ReadLimited(strings.NewReader(strings.Repeat("x", 64)), 64)
	if err != nil || !ok {
		t.Errorf("frame of exactly the limit: ok=%v err=%v", ok, err)
	}
	pool.Put(buf)
}

func TestFramePool_PutResets(t *testing.T) {
	pool := NewFramePool(16, 1024)

	buf := pool.Get()
	buf.WriteString("stale")
	pool.Put(buf)

	if got := pool.Get(); got.Len() != 0 {
		t.Errorf("pooled buffer not reset, holds %q", got.String())
	}
}

func TestFramePool_DropsLargeBuffers(t *testing.T) {
	pool := NewFramePool(16, 32)

	big := bytes.NewBuffer(make([]byte, 0, 4096))
	pool.Put(big)
	pool.Put(nil)

	if got := pool.Get(); got == big {
		t.Error("oversized buffer was kept")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("reset by peer") }

func TestFramePool_ReadError(t *testing.T) {
	pool := NewFramePool(16, 1024)

	buf, ok, err := pool.ReadLimited(failingReader{}, 64)
	if err == nil {
		t.Fatal("expected read error")
	}
	if buf != nil || ok {
		t.Errorf("expected no buffer on error, got %v %v", buf, ok)
	}
}

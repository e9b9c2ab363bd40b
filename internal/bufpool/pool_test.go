package bufpool

import "testing"

func TestPoolGetPut(t *testing.T) {
	p := New(1024)

	buf := p.Get()
	if len(buf) != 1024 {
		t.Fatalf("expected buffer of 1024 bytes, got %d", len(buf))
	}
	p.Put(buf)

	again := p.Get()
	if len(again) != 1024 {
		t.Fatalf("expected reused buffer of 1024 bytes, got %d", len(again))
	}
}

func TestPoolDiscardsSmallBuffers(t *testing.T) {
	p := New(1024)
	p.Put(make([]byte, 16))

	buf := p.Get()
	if len(buf) != 1024 {
		t.Fatalf("expected fresh 1024-byte buffer, got %d", len(buf))
	}
}

func TestPoolRejectsInvalidSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive size")
		}
	}()
	New(0)
}

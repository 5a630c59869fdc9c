package scratch

import (
	"bytes"
	"testing"
)

func TestBlobLifecycle(t *testing.T) {
	space := InMemory()
	b := space.NewBlob()
	if _, err := b.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b.Bytes(), []byte("hello world")) {
		t.Errorf("Bytes = %q", b.Bytes())
	}
	if b.Len() != 11 {
		t.Errorf("Len = %d", b.Len())
	}

	if err := space.Close(); err != nil {
		t.Fatal(err)
	}
	if b.Bytes() != nil {
		t.Error("blob readable after space close")
	}
	if _, err := b.Write([]byte("x")); err == nil {
		t.Error("write accepted after close")
	}
}

func TestFromBytes(t *testing.T) {
	b := FromBytes([]byte{1, 2, 3})
	if b.Len() != 3 {
		t.Errorf("Len = %d", b.Len())
	}
}

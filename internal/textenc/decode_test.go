package textenc

import (
	"strings"
	"testing"
)

func TestDecodeUTF8Passthrough(t *testing.T) {
	got, err := Decode([]byte("대전 주유소"), 65001)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != "대전 주유소" {
		t.Errorf("Decode() = %q; want 대전 주유소", got)
	}
}

func TestDecodeKorean(t *testing.T) {
	// "한글" in EUC-KR.
	b := []byte{0xC7, 0xD1, 0xB1, 0xDB}
	got, err := Decode(b, 949)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != "한글" {
		t.Errorf("Decode() = %q; want 한글", got)
	}

	// ASCII bytes bypass the decoder for every Korean page alias.
	for _, cp := range []uint16{949, 1361, 51949} {
		got, err := Decode([]byte("Station 7"), cp)
		if err != nil {
			t.Fatalf("Decode(cp=%d) error = %v", cp, err)
		}
		if got != "Station 7" {
			t.Errorf("Decode(cp=%d) = %q; want Station 7", cp, got)
		}
	}
}

func TestDecodeWindows1252(t *testing.T) {
	got, err := Decode([]byte{0x80, 0x41}, 1252)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != "€A" {
		t.Errorf("Decode() = %q; want €A", got)
	}

	// Undefined 1252 bytes decode to the replacement rune.
	got, err = Decode([]byte{0x81}, 1252)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != "�" {
		t.Errorf("Decode(0x81) = %q; want replacement", got)
	}
}

func TestDecodeUnknownPageLatin1(t *testing.T) {
	got, err := Decode([]byte{0xE9}, 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != "é" {
		t.Errorf("Decode() = %q; want é", got)
	}
}

func TestDecodeStrictMode(t *testing.T) {
	t.Setenv("FCUPDATER_CP949_STRICT", "1")
	// 0xFF 0xFF is not valid in any Korean page.
	if _, err := Decode([]byte{0xFF, 0xFF}, 949); err == nil {
		t.Error("Decode() in strict mode should fail for undecodable bytes")
	}
}

func TestCacheBasicOperations(t *testing.T) {
	c := NewCache(1024)

	c.Set("k1", "v1")
	c.Set("k2", "v2")
	if v, ok := c.Get("k1"); !ok || v != "v1" {
		t.Errorf("Get(k1) = %q, %v; want v1, true", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d; want 2", c.Len())
	}

	c.Set("k1", "v1b")
	if v, _ := c.Get("k1"); v != "v1b" {
		t.Errorf("Get(k1) after update = %q; want v1b", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len() after update = %d; want 2", c.Len())
	}
}

func TestCacheFIFOEviction(t *testing.T) {
	// Each entry costs 4 bytes (2-byte key + 2-byte value); bound of 8
	// holds exactly two.
	c := NewCache(8)
	c.Set("a1", "x1")
	c.Set("b2", "y2")
	c.Set("c3", "z3")

	if _, ok := c.Get("a1"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("b2"); !ok {
		t.Error("second entry should survive")
	}
	if _, ok := c.Get("c3"); !ok {
		t.Error("newest entry should survive")
	}
}

func TestCacheOversizeEntryClears(t *testing.T) {
	c := NewCache(16)
	c.Set("k", "v")
	c.Set("big", strings.Repeat("x", 64))

	if c.Len() != 0 {
		t.Errorf("Len() = %d; want 0 after oversize entry", c.Len())
	}
	if _, ok := c.Get("big"); ok {
		t.Error("oversize entry must not be stored")
	}
}

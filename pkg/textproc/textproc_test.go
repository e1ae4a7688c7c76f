package textproc

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanCollapsesWhitespaceAndControlChars(t *testing.T) {
	got := Clean("  Hello\x00\t\tworld \x07\r\n\r\n  again\u200b!  ", false)
	if got != "Hello world again!" {
		t.Fatalf("Clean() = %q", got)
	}

	got = Clean("\u200eleft\u200f \u0080right\u009b\u0085end", false)
	if got != "left right end" {
		t.Fatalf("Clean() with C1 controls and direction marks = %q", got)
	}
}

func TestCleanPreservesParagraphs(t *testing.T) {
	got := Clean("# Title  \n\n\n\n  first   line\nsecond\x0bline\r\n", true)
	want := "# Title\n\nfirst line\nsecondline"
	if got != want {
		t.Fatalf("Clean() = %q, want %q", got, want)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"a \x01 b",
		"a  b",
		"line\n \n \n \nnext",
		"\r\r\nx\ty\u00ad z\ufeff",
		"tab\t\n\tstart",
		"bad utf8 \xff\xfe here",
		"\u200e\u200f",
		"a\u0080\u009b b\u0085\u0085c\u200fd",
		strings.Repeat("word \n\n\n", 20),
	}
	for _, in := range inputs {
		for _, preserve := range []bool{false, true} {
			once := Clean(in, preserve)
			twice := Clean(once, preserve)
			if once != twice {
				t.Fatalf("Clean not idempotent for %q (preserve=%v): %q vs %q", in, preserve, once, twice)
			}
		}
	}
}

func TestChunkOffsets(t *testing.T) {
	text := strings.Repeat("x", 1200)
	chunks, err := Chunk(text, 500, 100)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	wantLens := []int{500, 500, 400}
	for i, chunk := range chunks {
		if len(chunk) != wantLens[i] {
			t.Fatalf("chunk %d len = %d, want %d", i, len(chunk), wantLens[i])
		}
	}
}

func TestChunkCoversEveryCharacterInOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2345; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()
	cases := []struct{ size, overlap int }{{500, 100}, {100, 0}, {64, 63}, {7, 3}, {5000, 10}}
	for _, tc := range cases {
		chunks, err := Chunk(text, tc.size, tc.overlap)
		if err != nil {
			t.Fatalf("Chunk(%d,%d) error: %v", tc.size, tc.overlap, err)
		}
		if want := ChunkCount(len(text), tc.size, tc.overlap); len(chunks) != want {
			t.Fatalf("Chunk(%d,%d) produced %d chunks, want %d", tc.size, tc.overlap, len(chunks), want)
		}
		covered := 0
		start := 0
		for i, chunk := range chunks {
			if !strings.HasPrefix(text[start:], chunk) {
				t.Fatalf("chunk %d does not start at offset %d", i, start)
			}
			end := start + len(chunk)
			if end > covered {
				covered = end
			}
			start = end - tc.overlap
		}
		if covered != len(text) {
			t.Fatalf("Chunk(%d,%d) covered %d of %d", tc.size, tc.overlap, covered, len(text))
		}
	}
}

func TestChunkEdgeCases(t *testing.T) {
	chunks, err := Chunk("", 500, 100)
	if err != nil || len(chunks) != 0 {
		t.Fatalf("empty input: chunks=%v err=%v", chunks, err)
	}
	chunks, err = Chunk("short", 500, 100)
	if err != nil || len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("short input: chunks=%v err=%v", chunks, err)
	}
	chunks, err = Chunk("日本語のテキスト", 4, 1)
	if err != nil {
		t.Fatalf("multibyte input: %v", err)
	}
	if len(chunks) != 3 || chunks[0] != "日本語の" || chunks[1] != "のテキス" || chunks[2] != "スト" {
		t.Fatalf("unexpected rune windows: %q", chunks)
	}
}

func TestChunkRejectsNonAdvancingWindow(t *testing.T) {
	if _, err := Chunk("abc", 100, 100); !errors.Is(err, ErrInvalidOverlap) {
		t.Fatalf("overlap == size: expected ErrInvalidOverlap, got %v", err)
	}
	if _, err := Chunk("abc", 10, 20); !errors.Is(err, ErrInvalidOverlap) {
		t.Fatalf("overlap > size: expected ErrInvalidOverlap, got %v", err)
	}
	if _, err := Chunk("abc", 0, 0); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("size 0: expected ErrInvalidSize, got %v", err)
	}
}

package native

import (
	"bytes"
	"testing"
)

func TestPrintStream(t *testing.T) {
	t.Run("println appends a newline", func(t *testing.T) {
		var buf bytes.Buffer
		ps := &PrintStream{Writer: &buf}
		ps.Println("42")
		if got := buf.String(); got != "42\n" {
			t.Errorf("got %q, want %q", got, "42\n")
		}
	})

	t.Run("println with no args prints a bare newline", func(t *testing.T) {
		var buf bytes.Buffer
		ps := &PrintStream{Writer: &buf}
		ps.Println()
		if got := buf.String(); got != "\n" {
			t.Errorf("got %q, want %q", got, "\n")
		}
	})

	t.Run("print omits the newline", func(t *testing.T) {
		var buf bytes.Buffer
		ps := &PrintStream{Writer: &buf}
		ps.Print("a")
		ps.Print("b")
		if got := buf.String(); got != "ab" {
			t.Errorf("got %q, want %q", got, "ab")
		}
	})
}

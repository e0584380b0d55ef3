package extract

import (
	"context"
	"testing"
)

func TestPlaintextSupports(t *testing.T) {
	p := NewPlaintext()
	tests := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/plain; charset=utf-8", true},
		{"TEXT/PLAIN", true},
		{"text/markdown", true},
		{"text/csv", true},
		{"application/pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := p.Supports(tt.mime); got != tt.want {
			t.Errorf("Supports(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}
}

func TestPlaintextExtract(t *testing.T) {
	p := NewPlaintext()
	res, err := p.Extract(context.Background(), []byte("alpha bravo charlie"), "text/plain")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "alpha bravo charlie" {
		t.Errorf("text = %q", res.Text)
	}
	if res.PageCount() != 1 {
		t.Errorf("page count = %d, want 1", res.PageCount())
	}
	if res.Pages != nil {
		t.Errorf("expected nil pages without form feeds")
	}
}

func TestPlaintextExtractPages(t *testing.T) {
	p := NewPlaintext()
	res, err := p.Extract(context.Background(), []byte("page one\fpage two\fpage three"), "text/plain")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(res.Pages))
	}
	if res.Pages[1].Number != 2 || res.Pages[1].Text != "page two" {
		t.Errorf("page 2 = %+v", res.Pages[1])
	}
	if res.PageCount() != 3 {
		t.Errorf("page count = %d, want 3", res.PageCount())
	}
}

func TestPlaintextExtractRejectsUnsupportedMIME(t *testing.T) {
	p := NewPlaintext()
	if _, err := p.Extract(context.Background(), []byte("x"), "application/pdf"); err == nil {
		t.Fatal("expected error for unsupported mime")
	}
}

func TestPlaintextExtractRejectsInvalidUTF8(t *testing.T) {
	p := NewPlaintext()
	if _, err := p.Extract(context.Background(), []byte{0xff, 0xfe, 0xfd}, "text/plain"); err == nil {
		t.Fatal("expected error for invalid utf-8")
	}
}

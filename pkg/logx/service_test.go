package logx

import (
	"strings"
	"testing"
)

func TestFormatAlertSubjectLine(t *testing.T) {
	t.Parallel()
	rec := `{"level":"warn","message":"notify failed","time":"x","caller":"scanner.go:10","owner_id":"42","tag":"#VGGG0VY","task_id":"t1","err":"<boom>"}`
	got := formatAlert([]byte(rec))
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d, got %q", len(lines), got)
	}
	if lines[0] != "<b>🟠 WARN</b> notify failed" {
		t.Fatalf("head=%q", lines[0])
	}
	if lines[1] != "<code>#VGGG0VY</code> · owner 42 · task t1" {
		t.Fatalf("subject=%q", lines[1])
	}
	if lines[2] != "err=<code>&lt;boom&gt;</code>" {
		t.Fatalf("field=%q", lines[2])
	}
	if strings.Contains(got, "scanner.go") {
		t.Fatalf("caller leaked: %q", got)
	}
}

func TestFormatAlertNonJSON(t *testing.T) {
	t.Parallel()
	if got := formatAlert([]byte("  a<b  ")); got != "a&lt;b" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatAlertOversizeKeepsHead(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	b.WriteString(`{"level":"error","message":"scan failed"`)
	for i := 0; i < 40; i++ {
		b.WriteString(`,"k` + strings.Repeat("x", i) + `":"` + strings.Repeat("v", 200) + `"`)
	}
	b.WriteString("}")
	if got := formatAlert([]byte(b.String())); got != "<b>🔴 ERROR</b> scan failed" {
		t.Fatalf("got %q", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(Tag("#X")).Warn("dropped", Owner("1"), TaskID("t"))
	if l.With(Tag("#X")).IsZero() {
		t.Fatal("bound fields should make the logger non-zero")
	}
}

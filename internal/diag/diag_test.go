package diag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"denshist/pkg/contract"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{context.DeadlineExceeded, CodeCancel},
		{fmt.Errorf("x: %w", contract.ErrDegenerateRange), CodeDegenerate},
		{fmt.Errorf("x: %w", contract.ErrPeerAborted), CodeAbort},
		{fmt.Errorf("x: %w", contract.ErrPartitionMismatch), CodeInvariant},
		{fmt.Errorf("x: %w", contract.ErrEmptyShard), CodeInvariant},
		{fmt.Errorf("x: %w", contract.ErrPathInvalid), CodeInvariant},
		{fmt.Errorf("x: %w", contract.ErrInvariantViolation), CodeInvariant},
		{&os.PathError{Op: "open", Path: "a.bin", Err: os.ErrNotExist}, CodeIO},
		{fmt.Errorf("sample 3: %w", io.ErrUnexpectedEOF), CodeIO},
		{errors.New("boom"), CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != Debug || parseLevel("warn") != Warn || parseLevel("error") != Error {
		t.Fatalf("级别解析错误")
	}
	if parseLevel("") != Info || parseLevel("whatever") != Info {
		t.Fatalf("未知级别应回落 info")
	}
}

func TestRotatingFileRotation(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 32)
	for i := 0; i < 8; i++ {
		if err := w.WriteLine([]byte("0123456789abcdef")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = w.Close()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("应发生轮转, got %d 个文件", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "denshist-current.txt")); err != nil {
		t.Fatalf("current 文件缺失: %v", err)
	}
}

// rank-0 进度行为：启用的终端按既有文案输出；禁用的终端完全静默。
func TestTerminalRankZeroOnly(t *testing.T) {
	var out strings.Builder
	tm := NewTerminal(&out, true)
	tm.LoadStart()
	tm.LoadDone()
	tm.FreqStart()
	tm.FreqDone(5, 0, 4)
	got := out.String()
	want := "Loading density values ... done.\nComputing frequencies ... done.\n\tbins: 5\n\t(min, max): (0, 4)\n"
	if got != want {
		t.Fatalf("进度文案不符:\n got %q\nwant %q", got, want)
	}

	var silent strings.Builder
	tm2 := NewTerminal(&silent, false)
	tm2.LoadStart()
	tm2.FreqDone(5, 0, 4)
	if silent.Len() != 0 {
		t.Fatalf("禁用终端不应输出, got %q", silent.String())
	}
}

func TestTerminalGlobal(t *testing.T) {
	tm := NewTerminal(io.Discard, true)
	SetTerminal(tm)
	defer SetTerminal(nil)
	if GetTerminal() != tm {
		t.Fatalf("全局终端指针不符")
	}
}

package float32le

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"denshist/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// BufSize: 每文件的读缓冲区大小（字节）。默认 256KiB。
	BufSize int `json:"buf_size"`
}

// Loader 按小端 IEEE-754 float32 平铺格式（无头、无尾）解码输入文件，
// 解码时加宽为 float64 写入采样缓冲。
type Loader struct {
	bufSize int
}

// New 创建 float32 小端 Loader。
func New(opts *Options) *Loader {
	const defaultBuf = 256 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	return &Loader{bufSize: b}
}

var _ contract.Loader = (*Loader)(nil)

// Load 按 files 顺序将采样解码进 dst 的未填充区域。
// dst 长度必须等于声明总数；任一文件打开失败或短读即整体失败，
// 已填充的前缀不再有效（调用方按失败处理整个缓冲）。
func (l *Loader) Load(ctx context.Context, files []contract.InputFile, dst []float64) error {
	if want := contract.TotalCount(files); int64(len(dst)) != want {
		return fmt.Errorf("%w: buffer %d != declared %d", contract.ErrInvariantViolation, len(dst), want)
	}
	var off int64
	for _, f := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := l.loadOne(f.Path, dst[off:off+f.Count]); err != nil {
			return fmt.Errorf("load %s: %w", f.Path, err)
		}
		off += f.Count
	}
	return nil
}

func (l *Loader) loadOne(path string, dst []float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, l.bufSize)
	var word [4]byte
	for i := range dst {
		if _, err := io.ReadFull(br, word[:]); err != nil {
			// 短读：文件小于声明的采样数
			return fmt.Errorf("sample %d of %d: %w", i, len(dst), err)
		}
		dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(word[:])))
	}
	return nil
}

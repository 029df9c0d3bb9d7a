package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// MetadataPrefix 转写文件首行前缀，每个文件恰好一行
	MetadataPrefix = "metadata|"
	// ElapsedPrefix 逐消息记录行前缀
	ElapsedPrefix = "elapsed|"

	// FileExt 转写文件扩展名
	FileExt = ".spr"

	// DefaultBufferSize 写缓冲默认大小，可被配置项buffer覆盖
	DefaultBufferSize = 4096
)

var (
	ErrMetadataTwice   = errors.New("transcript: metadata line already written")
	ErrMetadataMissing = errors.New("transcript: metadata line must be written first")
	ErrWriterClosed    = errors.New("transcript: writer is closed")
)

// Field 元数据的单个键值对，值限定为标量（字符串/整数/浮点）
type Field struct {
	Key   string
	Value interface{}
}

// Metadata 保持写入顺序的元数据字段序列
// encoding/json的map会按键名排序，这里需要维持约定的字段顺序，所以手工编码
type Metadata []Field

// encode 将元数据序列化为单行JSON对象，字段顺序即切片顺序
func (m Metadata) encode() (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return "", err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return "", fmt.Errorf("transcript: encode metadata field %q: %w", f.Key, err)
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// Writer 单个会话的转写文件写入器
// 逐行追加，首行必须且只能是一条metadata记录
type Writer struct {
	path          string
	file          *os.File
	buf           *bufio.Writer
	wroteMetadata bool
	closed        bool
}

// Open 创建转写写入器，bufferSize<=0时退回默认缓冲大小
func Open(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}

	return &Writer{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, bufferSize),
	}, nil
}

// Path 返回转写文件路径
func (w *Writer) Path() string {
	return w.path
}

// WriteMetadata 写入首行元数据，必须先于任何WriteElapsed调用且只能调用一次
func (w *Writer) WriteMetadata(meta Metadata) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.wroteMetadata {
		return ErrMetadataTwice
	}

	encoded, err := meta.encode()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w.buf, "%s%s\n", MetadataPrefix, encoded); err != nil {
		return fmt.Errorf("transcript: write metadata: %w", err)
	}

	w.wroteMetadata = true
	return nil
}

// WriteElapsed 追加一条逐消息记录
// 耗时保留两位小数；原文中的换行全部剥掉，保证一行一条记录的不变量
func (w *Writer) WriteElapsed(elapsedSeconds float64, rawText string) error {
	if w.closed {
		return ErrWriterClosed
	}
	if !w.wroteMetadata {
		return ErrMetadataMissing
	}

	rawText = strings.ReplaceAll(rawText, "\r", "")
	rawText = strings.ReplaceAll(rawText, "\n", "")

	if _, err := fmt.Fprintf(w.buf, "%s%.2f|%s\n", ElapsedPrefix, elapsedSeconds, rawText); err != nil {
		return fmt.Errorf("transcript: write elapsed: %w", err)
	}

	return nil
}

// Close 刷出缓冲并释放文件句柄，之后写入器不可再用
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.buf.Flush()
	closeErr := w.file.Close()

	if flushErr != nil {
		return fmt.Errorf("transcript: flush %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("transcript: close %s: %w", w.path, closeErr)
	}
	return nil
}

// PatchPlaceholder 在已关闭的文件上做一次全局占位符替换
// 整文件读进来改写回去：对局开始时胜者未知，结束时才能补进首行元数据里
// 转写文件是单局文本日志，体量小，整读整写可以接受
func PatchPlaceholder(path, placeholderToken, replacement string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("transcript: read %s: %w", path, err)
	}

	patched := strings.ReplaceAll(string(contents), placeholderToken, replacement)

	if err := os.WriteFile(path, []byte(patched), 0644); err != nil {
		return fmt.Errorf("transcript: rewrite %s: %w", path, err)
	}
	return nil
}

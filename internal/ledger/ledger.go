package ledger

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Ledger 待上传转写文件的持久化清单
// 纯文本文件，一行一个文件名（不含目录），按追加顺序排列
// 自动上传和手动上传可能并发触碰同一个文件，所有读改写都串行化在互斥锁里
type Ledger struct {
	mu   sync.Mutex
	path string
}

// New 创建指向指定清单文件的Ledger
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path 返回清单文件路径
func (l *Ledger) Path() string {
	return l.path
}

// Defer 将文件名追加进清单，文件不存在时创建
// 不做去重，语义是"记一笔未成功上传"
func (l *Ledger) Defer(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", l.path, err)
	}
	defer file.Close()

	if _, err := fmt.Fprintln(file, filename); err != nil {
		return fmt.Errorf("ledger: append %s: %w", l.path, err)
	}
	return nil
}

// Confirm 从清单中去掉所有精确匹配的行并原序重写
// 清单文件不存在时静默返回
func (l *Ledger) Confirm(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	remaining := lines[:0]
	for _, line := range lines {
		if line != filename {
			remaining = append(remaining, line)
		}
	}

	var b strings.Builder
	for _, line := range remaining {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(l.path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("ledger: rewrite %s: %w", l.path, err)
	}
	return nil
}

// List 返回清单中待上传的文件名，保持追加顺序
// 清单文件不存在时返回空列表
func (l *Ledger) List() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return lines, nil
}

// readLines 读出清单的非空行，调用方必须已持有锁
func (l *Ledger) readLines() ([]string, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", l.path, err)
	}
	return lines, nil
}

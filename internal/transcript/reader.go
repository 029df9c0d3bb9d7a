package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrNoMetadata = errors.New("transcript: first line is not a metadata record")
	ErrBadRecord  = errors.New("transcript: malformed record line")
)

// Record 转写文件中的单条逐消息记录
type Record struct {
	Elapsed float64
	Raw     string
}

// Transcript 解析后的转写文件
type Transcript struct {
	Metadata map[string]interface{}
	Records  []Record
}

// Parse 从流中解析转写内容
// 校验首行恰好是一条metadata记录，其余每行都是elapsed记录
func Parse(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		return nil, ErrNoMetadata
	}

	first := scanner.Text()
	if !strings.HasPrefix(first, MetadataPrefix) {
		return nil, ErrNoMetadata
	}

	meta := make(map[string]interface{})
	if err := json.Unmarshal([]byte(strings.TrimPrefix(first, MetadataPrefix)), &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata json: %v", ErrBadRecord, err)
	}

	tr := &Transcript{Metadata: meta}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, MetadataPrefix) {
			return nil, fmt.Errorf("%w: duplicate metadata line", ErrBadRecord)
		}
		if !strings.HasPrefix(line, ElapsedPrefix) {
			return nil, fmt.Errorf("%w: %q", ErrBadRecord, line)
		}

		rest := strings.TrimPrefix(line, ElapsedPrefix)
		sep := strings.Index(rest, "|")
		if sep < 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadRecord, line)
		}

		elapsed, err := strconv.ParseFloat(rest[:sep], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: elapsed %q", ErrBadRecord, rest[:sep])
		}

		tr.Records = append(tr.Records, Record{
			Elapsed: elapsed,
			Raw:     rest[sep+1:],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan: %w", err)
	}

	return tr, nil
}

// ParseFile 解析磁盘上的转写文件
func ParseFile(path string) (*Transcript, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer file.Close()

	return Parse(file)
}

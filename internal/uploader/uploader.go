package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ScrollsReplayRecorder/internal/ledger"
	"ScrollsReplayRecorder/internal/recorder"
)

// DefaultTimeout 单次上传的整体超时
const DefaultTimeout = 60 * time.Second

// Result 上传接口的响应体，url和error互斥
type Result struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Uploaded 服务端是否接收了转写文件
func (r *Result) Uploaded() bool {
	return r.URL != ""
}

// Uploader 把转写文件以multipart表单提交到回放接口
// 单次提交失败不自动重试，只记账等待下一次手动触发
type Uploader struct {
	apiURL   string
	ledger   *ledger.Ledger
	notifier recorder.Notifier
	client   *http.Client

	// 注入时钟，boundary和测试都用它
	now func() time.Time
}

// New 创建上传器，timeout为0时用DefaultTimeout
func New(apiURL string, lg *ledger.Ledger, notifier recorder.Notifier, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{
		apiURL:   strings.TrimRight(apiURL, "/"),
		ledger:   lg,
		notifier: notifier,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Upload 提交一个转写文件并根据响应收尾：
// 成功则销账并告知回放地址，被拒则告知原因，
// 传输层失败则记账待传。返回值供命令行工具检查
func (u *Uploader) Upload(ctx context.Context, path string) (*Result, error) {
	name := filepath.Base(path)

	body, contentType, err := u.buildForm(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.apiURL+"/v1/replays", body)
	if err != nil {
		return nil, fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		u.deferUpload(name)
		u.notifier.SendMessage(fmt.Sprintf("We had an HTTP error while uploading replay %s, contact us at support@scrollspost.com for help.", name))
		u.notifier.WriteLog("Failed to upload replay", err)
		return nil, fmt.Errorf("uploader: post %s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		u.deferUpload(name)
		u.notifier.SendMessage(fmt.Sprintf("We had an HTTP error while uploading replay %s, contact us at support@scrollspost.com for help.", name))
		u.notifier.WriteLog("Failed to read upload response", err)
		return nil, fmt.Errorf("uploader: read response for %s: %w", name, err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		u.deferUpload(name)
		u.notifier.SendMessage(fmt.Sprintf("We had an HTTP error while uploading replay %s, contact us at support@scrollspost.com for help.", name))
		u.notifier.WriteLog("Failed to decode upload response", err)
		return nil, fmt.Errorf("uploader: decode response for %s: %w", name, err)
	}

	switch {
	case result.URL != "":
		// 接口可能返回scrollspost/前缀的短地址，展示前补全域名
		url := strings.Replace(result.URL, "scrollspost/", "scrollspost.com/", 1)
		u.notifier.SendMessage(fmt.Sprintf("Finished uploading replay to ScrollsPost. Can be found at %s, or by typing /sp and going to Replay List.", url))
		if err := u.ledger.Confirm(name); err != nil {
			u.notifier.WriteLog("Failed to confirm uploaded replay", err)
		}

	case result.Error == "game_too_short":
		// 服务端的最终判定，不记账重试
		u.notifier.SendMessage("Replay rejected as it was too short, must go beyond 1 round to be uploaded.")

	default:
		u.notifier.SendMessage(fmt.Sprintf("Error while uploading replay (%s), please contact us for more info at support@scrollspost.com", result.Error))
		u.deferUpload(name)
	}

	return &result, nil
}

// buildForm 组装单字段multipart表单，字段名replay，内容text/plain
func (u *Uploader) buildForm(path string) (io.Reader, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("uploader: read %s: %w", path, err)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	boundary := fmt.Sprintf("---------------------------%d", u.now().Unix())
	if err := form.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("uploader: set boundary: %w", err)
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="replay"; filename="%s"`, filepath.Base(path)))
	header.Set("Content-Type", "text/plain")

	part, err := form.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("uploader: create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("uploader: write form part: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("uploader: close form: %w", err)
	}

	return &buf, form.FormDataContentType(), nil
}

func (u *Uploader) deferUpload(name string) {
	if err := u.ledger.Defer(name); err != nil {
		u.notifier.WriteLog("Failed to record pending upload", err)
	}
}

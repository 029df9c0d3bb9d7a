package uploader

import (
	"context"
	"path/filepath"
	"sync"
)

// DefaultQueueDepth 上传队列的默认容量
const DefaultQueueDepth = 16

// Pool 后台上传工作池，实现recorder.Dispatcher
// Enqueue从消息消费路径调用，绝不阻塞在网络I/O上
type Pool struct {
	uploader *Uploader
	queue    chan string

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool 创建工作池并启动workers个上传协程
func NewPool(uploader *Uploader, workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	p := &Pool{
		uploader: uploader,
		queue:    make(chan string, queueDepth),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Enqueue 把转写文件路径排进上传队列
// 队列满或池已停止时记账待传，调用方永不阻塞
func (p *Pool) Enqueue(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.uploader.deferUpload(filepath.Base(path))
		return
	}

	select {
	case p.queue <- path:
	default:
		p.uploader.deferUpload(filepath.Base(path))
	}
}

// Shutdown 停止接收新任务，等队列排空且在途上传结束后返回
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()

	for path := range p.queue {
		// 上传结果已在Upload内部消化，这里忽略返回值
		p.uploader.Upload(context.Background(), path) //nolint:errcheck
	}
}

package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job: единица работы пула. Контекст передаётся от вызывающего.
type Job func(ctx context.Context)

// Pool выполняет пачку задач не более чем в workers горутинах.
// Run блокируется, пока все задачи пачки не завершатся, поэтому
// никакая работа не переживает вызов.
type Pool struct {
	workers int
	logger  *zap.Logger
}

// NewPool создаёт новый пул воркеров.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		logger:  logger,
	}
}

func (p *Pool) Workers() int { return p.workers }

// Run выполняет jobs и ждёт завершения всех.
// При workers == 1 задачи идут последовательно в вызывающей горутине.
func (p *Pool) Run(ctx context.Context, jobs []Job) {
	if len(jobs) == 0 {
		return
	}

	n := p.workers
	if n > len(jobs) {
		n = len(jobs)
	}
	if n <= 1 {
		for _, job := range jobs {
			p.runOne(ctx, 0, job)
		}
		return
	}

	workCh := make(chan Job)
	var wg sync.WaitGroup

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id, workCh)
		}(i)
	}

	// Отменённый контекст не пропускает задачи: каждая сама
	// увидит ctx.Err() и быстро завершится.
	for _, job := range jobs {
		workCh <- job
	}
	close(workCh)
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, id int, in <-chan Job) {
	for job := range in {
		p.runOne(ctx, id, job)
	}
}

// runOne изолирует панику задачи, чтобы она не уронила остальные.
func (p *Pool) runOne(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker: job panicked", zap.Int("worker", id), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	job(ctx)
}

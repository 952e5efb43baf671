package supervisor

import (
	"log/slog"
	"sync"
)

// joinable is anything the joiner can wait for.
type joinable interface {
	Name() string
	Join()
}

// joiner waits for stopped processes in submission order on a single
// goroutine, so asynchronous stops never block their caller. A nil entry
// terminates it.
type joiner struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []joinable
	done   chan struct{}
	logger *slog.Logger
}

func newJoiner(logger *slog.Logger) *joiner {
	j := &joiner{
		done:   make(chan struct{}),
		logger: logger,
	}
	j.cond = sync.NewCond(&j.mu)
	go j.run()
	return j
}

func (j *joiner) run() {
	defer close(j.done)

	j.mu.Lock()
	defer j.mu.Unlock()
	for {
		for len(j.queue) == 0 {
			j.cond.Wait()
		}
		next := j.queue[0]
		j.queue = j.queue[1:]
		if next == nil {
			return
		}

		j.mu.Unlock()
		next.Join()
		j.logger.Info("process_joined_async", "name", next.Name())
		j.mu.Lock()
	}
}

func (j *joiner) append(p joinable) {
	j.mu.Lock()
	j.queue = append(j.queue, p)
	j.mu.Unlock()
	j.cond.Broadcast()
}

// terminate queues the end marker and waits for everything before it.
func (j *joiner) terminate() {
	j.append(nil)
	<-j.done
}

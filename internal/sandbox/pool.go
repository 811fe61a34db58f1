package sandbox

import (
	"runtime"
	"sync"
)

// Pool bounds the number of concurrently running CPU-bound sandbox
// operations (compilation, instantiation, execution) so they cannot
// monopolize every OS thread and stall the connections' I/O tasks — the
// cooperative-offload requirement of spec §5.
type Pool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewPool builds a Pool admitting at most size concurrent operations.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size), done: make(chan struct{})}
}

func defaultPoolSize() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}

// Do runs fn on the pool, blocking the caller until a slot is available
// and fn returns. It yields the scheduler before and after running fn so
// a long compile doesn't monopolize its goroutine's thread slice.
func (p *Pool) Do(fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-p.done:
		return nil
	}
	defer func() { <-p.sem }()

	p.wg.Add(1)
	defer p.wg.Done()

	runtime.Gosched()
	err := fn()
	runtime.Gosched()
	return err
}

// Close waits for in-flight operations to finish and stops admitting new
// ones.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

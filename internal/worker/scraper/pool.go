package scraper

import "sync"

type task func()

// pool runs submitted tasks on a fixed number of goroutines. Close waits
// for every submitted task to finish; Submit after Close panics.
type pool struct {
	size  int
	tasks chan task
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	return &pool{
		size:  max(size, 1),
		tasks: make(chan task),
	}
}

func (p *pool) start() {
	for range p.size {
		p.wg.Go(func() {
			for t := range p.tasks {
				t()
			}
		})
	}
}

func (p *pool) submit(t task) {
	p.tasks <- t
}

func (p *pool) close() {
	close(p.tasks)
	p.wg.Wait()
}

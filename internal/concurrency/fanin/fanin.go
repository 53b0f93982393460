package fanin

import (
	"sync"

	"stockstream/internal/domain/model"
)

// FanIn объединяет несколько каналов PriceUpdate в один в порядке получения.
// Когда все входные каналы закрыты, выходной канал закрывается.
func FanIn(channels ...<-chan model.PriceUpdate) <-chan model.PriceUpdate {
	return merge(channels...)
}

// Errors объединяет каналы ошибок источников.
func Errors(channels ...<-chan error) <-chan error {
	return merge(channels...)
}

func merge[T any](channels ...<-chan T) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup
	wg.Add(len(channels))

	for _, ch := range channels {
		go func(c <-chan T) {
			defer wg.Done()
			for v := range c {
				out <- v
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

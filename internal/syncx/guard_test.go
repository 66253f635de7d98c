package syncx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type snapshot struct {
	Speed float64
	Max   int
}

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(snapshot{Speed: 1, Max: 200})
	assert.Equal(t, 200, g.Get().Max)

	g.Set(snapshot{Speed: 1.5, Max: 100})
	assert.Equal(t, snapshot{Speed: 1.5, Max: 100}, g.Get())
}

func TestGuardGetReturnsCopy(t *testing.T) {
	g := NewGuard(snapshot{Max: 10})
	v := g.Get()
	v.Max = 99
	assert.Equal(t, 10, g.Get().Max)
}

func TestGuardSwap(t *testing.T) {
	g := NewGuard("first")
	assert.Equal(t, "first", g.Swap("second"))
	assert.Equal(t, "second", g.Get())
}

func TestGuardConcurrentUpdate(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Update(func(v *int) { *v++ })
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, g.Get())
}

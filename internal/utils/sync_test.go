package utils_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arenas/internal/utils"
)

func TestOptionalMutexSerializes(t *testing.T) {
	mutex := utils.OptionalMutex{UseMutex: true}
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8000, counter)
}

func TestOptionalMutexDisabled(t *testing.T) {
	mutex := utils.OptionalMutex{}
	mutex.Lock()
	// A disabled mutex never blocks, even when locked twice
	mutex.Lock()
	mutex.Unlock()
	mutex.Unlock()

	require.True(t, mutex.Mutex.TryLock())
	mutex.Mutex.Unlock()
}

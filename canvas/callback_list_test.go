package canvas

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbackList := NewCallbackList[func(int)]()
	assert.Equal(t, len(callbackList.Get()), 0)

	counts := map[string]int{}
	aId := callbackList.Add(func(v int) {
		counts["a"] += v
	})
	bId := callbackList.Add(func(v int) {
		counts["b"] += v
	})
	assert.Equal(t, len(callbackList.Get()), 2)

	for _, callback := range callbackList.Get() {
		callback(1)
	}
	assert.Equal(t, counts["a"], 1)
	assert.Equal(t, counts["b"], 1)

	callbackList.Remove(aId)
	assert.Equal(t, len(callbackList.Get()), 1)
	for _, callback := range callbackList.Get() {
		callback(1)
	}
	assert.Equal(t, counts["a"], 1)
	assert.Equal(t, counts["b"], 2)

	// remove is idempotent
	callbackList.Remove(aId)
	callbackList.Remove(bId)
	assert.Equal(t, len(callbackList.Get()), 0)
}

func TestCallbackListSnapshot(t *testing.T) {
	callbackList := NewCallbackList[func(int)]()
	callbackList.Add(func(int) {})

	// the returned slice is a snapshot, unaffected by later updates
	callbacks := callbackList.Get()
	callbackList.Add(func(int) {})
	assert.Equal(t, len(callbacks), 1)
	assert.Equal(t, len(callbackList.Get()), 2)
}

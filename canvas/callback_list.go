package canvas

import (
	"sync"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so that `Get` can be iterated
// without holding the lock

type callbackId int

type callbackEntry[T any] struct {
	callbackId callbackId
	callback   T
}

type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId callbackId
	entries        []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		entries: []callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, len(self.entries))
	for i, entry := range self.entries {
		callbacks[i] = entry.callback
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) callbackId {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextEntries := slices.Clone(self.entries)
	nextEntries = append(nextEntries, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.entries = nextEntries
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId callbackId) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.entries, func(entry callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextEntries := slices.Clone(self.entries)
	nextEntries = slices.Delete(nextEntries, i, i+1)
	self.entries = nextEntries
}

package consensus

import "sync"

// EpochSourceI is the monotonically increasing epoch counter shared by all participants.
// Rotation subscribers run synchronously inside the rotation, so cached material bound to
// the old epoch is gone before any read under the new epoch can be served.
type EpochSourceI interface {
	// Current() returns the current epoch
	Current() uint64
	// Subscribe() registers a callback invoked synchronously on every rotation
	Subscribe(onRotate func(epoch uint64))
}

var _ EpochSourceI = &ManualEpochSource{}

// ManualEpochSource is an in-process epoch counter rotated by the host
type ManualEpochSource struct {
	l     sync.Mutex
	epoch uint64
	subs  []func(uint64)
}

// NewManualEpochSource() constructs an epoch source starting at the given epoch
func NewManualEpochSource(start uint64) *ManualEpochSource {
	return &ManualEpochSource{epoch: start}
}

// Current() returns the current epoch
func (e *ManualEpochSource) Current() uint64 {
	e.l.Lock()
	defer e.l.Unlock()
	return e.epoch
}

// Subscribe() registers a rotation callback; callbacks must not call back into the source
func (e *ManualEpochSource) Subscribe(onRotate func(epoch uint64)) {
	e.l.Lock()
	defer e.l.Unlock()
	e.subs = append(e.subs, onRotate)
}

// Rotate() advances the epoch and notifies subscribers while still holding the lock, so
// no Current() read of the new epoch can be observed before the callbacks complete
func (e *ManualEpochSource) Rotate() uint64 {
	e.l.Lock()
	defer e.l.Unlock()
	e.epoch++
	for _, onRotate := range e.subs {
		onRotate(e.epoch)
	}
	return e.epoch
}

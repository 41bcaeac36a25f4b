package javascript

import "runtime/metrics"

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// heapWatch reports when the process heap has grown past a budget since the
// watch started. Runs share one heap, so concurrent runs count against each
// other.
type heapWatch struct {
	sample []metrics.Sample
	base   uint64
	budget uint64
}

func newHeapWatch(budget int64) *heapWatch {
	w := &heapWatch{
		sample: []metrics.Sample{{Name: heapObjectsMetric}},
		budget: uint64(budget),
	}
	w.base = w.read()
	return w
}

func (w *heapWatch) read() uint64 {
	metrics.Read(w.sample)
	if w.sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return w.sample[0].Value.Uint64()
}

func (w *heapWatch) exceeded() bool {
	now := w.read()
	return now > w.base && now-w.base > w.budget
}

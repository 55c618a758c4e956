// Package queue provides a value-based binary heap used for top-k selection.
package queue

// Item is one candidate in the queue: a row offset and its distance to the query.
type Item struct {
	Row      uint32
	Distance float32
}

// Max is a bounded max-heap ordered by (Distance, Row): the element with the
// largest distance sits on top, and among equal distances the higher row
// offset is considered larger. Evicting the top therefore always keeps the
// nearest candidates, preferring lower row offsets on ties.
type Max struct {
	items []Item
}

// NewMax initializes a max-heap with the given capacity.
func NewMax(capacity int) *Max {
	return &Max{items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the heap.
func (q *Max) Len() int { return len(q.items) }

// Top returns the top element (largest) without removing it.
func (q *Max) Top() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (q *Max) Push(item Item) {
	q.items = append(q.items, item)
	q.siftUp(len(q.items) - 1)
}

// Pop removes and returns the top element while maintaining the heap invariant.
func (q *Max) Pop() (Item, bool) {
	n := len(q.items)
	if n == 0 {
		return Item{}, false
	}
	root := q.items[0]
	last := q.items[n-1]
	q.items[n-1] = Item{}
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root, true
}

// Greater reports whether a orders after b, i.e. a is a worse candidate.
func Greater(a, b Item) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Row > b.Row
}

func (q *Max) less(i, j int) bool {
	return Greater(q.items[i], q.items[j])
}

func (q *Max) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *Max) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}

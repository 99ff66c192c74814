package memory

import (
	"container/heap"
	"sort"
)

// kdNode is one node of the in-memory KD-tree over pattern feature vectors.
type kdNode struct {
	id    string
	vec   []float32
	axis  int
	left  *kdNode
	right *kdNode
}

// kdTree indexes pattern ids by their feature vector for kNN lookups.
// Incremental inserts are cheap but degrade balance; the owner rebuilds
// after bulk evictions (see PatternMemory).
type kdTree struct {
	root *kdNode
	size int
	dims int
}

func newKDTree(dims int) *kdTree {
	return &kdTree{dims: dims}
}

func (t *kdTree) Size() int { return t.size }

// Insert adds one point. Duplicate ids are not detected here; the owner
// keeps id uniqueness.
func (t *kdTree) Insert(id string, vec []float32) {
	t.root = t.insert(t.root, id, vec, 0)
	t.size++
}

func (t *kdTree) insert(n *kdNode, id string, vec []float32, depth int) *kdNode {
	if n == nil {
		return &kdNode{id: id, vec: vec, axis: depth % t.dims}
	}
	if vec[n.axis] < n.vec[n.axis] {
		n.left = t.insert(n.left, id, vec, depth+1)
	} else {
		n.right = t.insert(n.right, id, vec, depth+1)
	}
	return n
}

// Rebuild replaces the whole tree with a balanced one built by median
// splits over the given points.
func (t *kdTree) Rebuild(ids []string, vecs [][]float32) {
	pts := make([]kdPoint, len(ids))
	for i := range ids {
		pts[i] = kdPoint{id: ids[i], vec: vecs[i]}
	}
	t.root = t.build(pts, 0)
	t.size = len(pts)
}

type kdPoint struct {
	id  string
	vec []float32
}

func (t *kdTree) build(pts []kdPoint, depth int) *kdNode {
	if len(pts) == 0 {
		return nil
	}
	axis := depth % t.dims
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].vec[axis] != pts[j].vec[axis] {
			return pts[i].vec[axis] < pts[j].vec[axis]
		}
		return pts[i].id < pts[j].id
	})
	mid := len(pts) / 2
	n := &kdNode{id: pts[mid].id, vec: pts[mid].vec, axis: axis}
	n.left = t.build(pts[:mid], depth+1)
	n.right = t.build(pts[mid+1:], depth+1)
	return n
}

// neighbor is one kNN result.
type neighbor struct {
	id     string
	distSq float64
}

// neighborHeap is a max-heap on distance so the worst of the current k
// candidates sits on top and is evicted first.
type neighborHeap []neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return h[i].distSq > h[j].distSq }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// KNN returns up to k nearest points to query by euclidean distance,
// closest first. Branches are pruned when the splitting plane is farther
// than the current kth best.
func (t *kdTree) KNN(query []float32, k int) []neighbor {
	if k <= 0 || t.root == nil {
		return nil
	}
	h := &neighborHeap{}
	t.search(t.root, query, k, h)

	out := make([]neighbor, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(neighbor)
	}
	return out
}

func (t *kdTree) search(n *kdNode, query []float32, k int, h *neighborHeap) {
	if n == nil {
		return
	}

	d := EuclideanSq(query, n.vec)
	if h.Len() < k {
		heap.Push(h, neighbor{id: n.id, distSq: d})
	} else if d < (*h)[0].distSq {
		heap.Pop(h)
		heap.Push(h, neighbor{id: n.id, distSq: d})
	}

	diff := float64(query[n.axis]) - float64(n.vec[n.axis])
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}

	t.search(near, query, k, h)
	if h.Len() < k || diff*diff < (*h)[0].distSq {
		t.search(far, query, k, h)
	}
}

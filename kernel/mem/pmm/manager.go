package pmm

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/bump"
)

type color uint8

const (
	red color = iota
	black
)

// node is the intrusive storage for one tracked frame. Manager allocates a
// flat array of these up front (at Init time, before a kernel heap exists)
// and threads them into one of two red-black trees: free or used.
type node struct {
	color               color
	left, right, parent *node
	frame               Frame
}

// tree is a standard CLRS red-black tree keyed by frame address. Both the
// free and used trees in Manager share the same nil sentinel.
type tree struct {
	root *node
	nilN *node
}

func newTree(sentinel *node) *tree {
	return &tree{root: sentinel, nilN: sentinel}
}

func (t *tree) leftRotate(x *node) {
	y := x.right
	x.right = y.left
	if y.left != t.nilN {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *tree) rightRotate(x *node) {
	y := x.left
	x.left = y.right
	if y.right != t.nilN {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *tree) insert(z *node) {
	y := t.nilN
	x := t.root
	for x != t.nilN {
		y = x
		if z.frame < x.frame {
			x = x.left
		} else {
			x = x.right
		}
	}
	z.parent = y
	if y == t.nilN {
		t.root = z
	} else if z.frame < y.frame {
		y.left = z
	} else {
		y.right = z
	}
	z.left, z.right = t.nilN, t.nilN
	z.color = red
	t.insertFixup(z)
}

func (t *tree) insertFixup(z *node) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *tree) minimum(x *node) *node {
	for x.left != t.nilN {
		x = x.left
	}
	return x
}

func (t *tree) transplant(u, v *node) {
	if u.parent == t.nilN {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *tree) delete(z *node) {
	y := z
	yOrigColor := y.color
	var x *node
	if z.left == t.nilN {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nilN {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minimum(z.right)
		yOrigColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}
	if yOrigColor == black {
		t.deleteFixup(x)
	}
}

func (t *tree) deleteFixup(x *node) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}

func (t *tree) search(f Frame) *node {
	x := t.root
	for x != t.nilN && x.frame != f {
		if f < x.frame {
			x = x.left
		} else {
			x = x.right
		}
	}
	if x == t.nilN {
		return nil
	}
	return x
}

// NodeSize returns the byte stride a bump pool must use to serve as node
// storage for a Manager.
func NodeSize() uintptr {
	return unsafe.Sizeof(node{})
}

// Manager tracks every physical frame in a managed region using two
// red-black trees: one holding free frames, one holding frames currently
// on loan. Node storage for both trees comes from a bump pool seeded by
// the caller, so the manager never needs a general-purpose allocator;
// nodes live until shutdown and are never handed back.
type Manager struct {
	base   uintptr
	count  int
	pool   *bump.Pool
	sentry node
	free   *tree
	used   *tree
}

// Init prepares m to manage count frames of mem.PageSize starting at base.
// Every frame begins on the free tree, with its node drawn from pool; the
// pool must be stocked with at least count slots of NodeSize bytes or Init
// fails with ErrOutOfMemory, leaving m unusable.
func (m *Manager) Init(base uintptr, count int, pool *bump.Pool) error {
	m.base = base
	m.count = count
	m.pool = pool

	m.sentry = node{color: black}
	m.sentry.left, m.sentry.right, m.sentry.parent = &m.sentry, &m.sentry, &m.sentry
	m.free = newTree(&m.sentry)
	m.used = newTree(&m.sentry)

	for i := 0; i < count; i++ {
		slot, err := pool.Get()
		if err != nil {
			return err
		}

		n := (*node)(slot)
		*n = node{frame: Frame(base + uintptr(i)*uintptr(mem.PageSize))}
		m.free.insert(n)
	}

	return nil
}

// GetFrame removes the lowest-addressed frame from the free tree, moves it
// to the used tree and returns it. It returns ErrOutOfMemory if no frame is
// free.
func (m *Manager) GetFrame() (Frame, error) {
	if m.free.root == m.free.nilN {
		return InvalidFrame, errors.ErrOutOfMemory
	}

	n := m.free.minimum(m.free.root)
	m.free.delete(n)

	n.parent, n.left, n.right = nil, nil, nil
	m.used.insert(n)

	return n.frame, nil
}

// ReleaseFrame returns f to the free tree. It is idempotent: releasing a
// frame that is not currently tracked as used is a silent no-op, matching
// the contract that a caller may release_frame(p) more than once without
// consequence. It returns ErrCorruptedDataStructure if f falls outside the
// region this manager was initialized over.
func (m *Manager) ReleaseFrame(f Frame) error {
	if f.Address() < m.base || f.Address() >= m.base+uintptr(m.count)*uintptr(mem.PageSize) {
		return errors.ErrCorruptedDataStructure
	}

	n := m.used.search(f)
	if n == nil {
		return nil
	}

	m.used.delete(n)
	n.parent, n.left, n.right = nil, nil, nil
	m.free.insert(n)

	return nil
}

// FreeCount returns the number of frames currently on the free tree. It
// walks the tree and is intended for diagnostics, not hot paths.
func (m *Manager) FreeCount() int {
	return m.countNodes(m.free.root, m.free.nilN)
}

// UsedCount returns the number of frames currently on the used tree.
func (m *Manager) UsedCount() int {
	return m.countNodes(m.used.root, m.used.nilN)
}

func (m *Manager) countNodes(n, sentinel *node) int {
	if n == sentinel {
		return 0
	}
	return 1 + m.countNodes(n.left, sentinel) + m.countNodes(n.right, sentinel)
}

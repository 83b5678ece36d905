package orderbook

type color uint8

const (
	red color = iota
	black
)

type node struct {
	price  int64
	level  *PriceLevel
	color  color
	left   *node
	right  *node
	parent *node
}

// RBTree maps a price to its PriceLevel. Bids walk it descending, asks and
// stop-buy triggers ascending.
type RBTree struct {
	root *node
	leaf *node // shared black sentinel
	size int
}

func NewRBTree() *RBTree {
	leaf := &node{color: black}
	return &RBTree{root: leaf, leaf: leaf}
}

// Len is the number of price levels.
func (t *RBTree) Len() int { return t.size }

func (t *RBTree) Empty() bool { return t.size == 0 }

func (t *RBTree) FindLevel(price int64) *PriceLevel {
	if n := t.search(price); n != t.leaf {
		return n.level
	}
	return nil
}

// UpsertLevel returns the level at price, creating it if needed.
func (t *RBTree) UpsertLevel(price int64) *PriceLevel {
	parent := t.leaf
	cur := t.root
	for cur != t.leaf {
		parent = cur
		switch {
		case price < cur.price:
			cur = cur.left
		case price > cur.price:
			cur = cur.right
		default:
			return cur.level
		}
	}

	n := &node{
		price:  price,
		level:  newPriceLevel(price),
		color:  red,
		left:   t.leaf,
		right:  t.leaf,
		parent: parent,
	}
	switch {
	case parent == t.leaf:
		t.root = n
	case price < parent.price:
		parent.left = n
	default:
		parent.right = n
	}
	t.insertFixup(n)
	t.size++
	return n.level
}

func (t *RBTree) DeleteLevel(price int64) bool {
	n := t.search(price)
	if n == t.leaf {
		return false
	}
	t.delete(n)
	t.size--
	return true
}

func (t *RBTree) MinLevel() *PriceLevel {
	if n := t.min(t.root); n != t.leaf {
		return n.level
	}
	return nil
}

func (t *RBTree) MaxLevel() *PriceLevel {
	if n := t.max(t.root); n != t.leaf {
		return n.level
	}
	return nil
}

// ForEachAscending visits levels from the lowest price until fn returns false.
// fn must not insert or delete levels.
func (t *RBTree) ForEachAscending(fn func(*PriceLevel) bool) {
	for n := t.min(t.root); n != t.leaf; n = t.successor(n) {
		if !fn(n.level) {
			return
		}
	}
}

// ForEachDescending visits levels from the highest price until fn returns false.
// fn must not insert or delete levels.
func (t *RBTree) ForEachDescending(fn func(*PriceLevel) bool) {
	for n := t.max(t.root); n != t.leaf; n = t.predecessor(n) {
		if !fn(n.level) {
			return
		}
	}
}

/******************** internals ********************/

func (t *RBTree) search(price int64) *node {
	n := t.root
	for n != t.leaf {
		switch {
		case price < n.price:
			n = n.left
		case price > n.price:
			n = n.right
		default:
			return n
		}
	}
	return t.leaf
}

func (t *RBTree) min(n *node) *node {
	if n == t.leaf {
		return n
	}
	for n.left != t.leaf {
		n = n.left
	}
	return n
}

func (t *RBTree) max(n *node) *node {
	if n == t.leaf {
		return n
	}
	for n.right != t.leaf {
		n = n.right
	}
	return n
}

func (t *RBTree) successor(n *node) *node {
	if n.right != t.leaf {
		return t.min(n.right)
	}
	p := n.parent
	for p != t.leaf && n == p.right {
		n, p = p, p.parent
	}
	return p
}

func (t *RBTree) predecessor(n *node) *node {
	if n.left != t.leaf {
		return t.max(n.left)
	}
	p := n.parent
	for p != t.leaf && n == p.left {
		n, p = p, p.parent
	}
	return p
}

func (t *RBTree) rotateLeft(x *node) {
	y := x.right
	x.right = y.left
	if y.left != t.leaf {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.leaf:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *RBTree) rotateRight(y *node) {
	x := y.left
	y.left = x.right
	if x.right != t.leaf {
		x.right.parent = y
	}
	x.parent = y.parent
	switch {
	case y.parent == t.leaf:
		t.root = x
	case y == y.parent.right:
		y.parent.right = x
	default:
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *RBTree) insertFixup(z *node) {
	for z.parent.color == red {
		gp := z.parent.parent
		if z.parent == gp.left {
			uncle := gp.right
			if uncle.color == red {
				z.parent.color = black
				uncle.color = black
				gp.color = red
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateRight(z.parent.parent)
		} else {
			uncle := gp.left
			if uncle.color == red {
				z.parent.color = black
				uncle.color = black
				gp.color = red
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateLeft(z.parent.parent)
		}
	}
	t.root.color = black
}

func (t *RBTree) transplant(u, v *node) {
	switch {
	case u.parent == t.leaf:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *RBTree) delete(z *node) {
	y := z
	yColor := y.color
	var x *node

	switch {
	case z.left == t.leaf:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.leaf:
		x = z.left
		t.transplant(z, z.left)
	default:
		y = t.min(z.right)
		yColor = y.color
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

	if yColor == black {
		t.deleteFixup(x)
	}
}

func (t *RBTree) deleteFixup(x *node) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.right.color == black {
				w.left.color = black
				w.color = red
				t.rotateRight(w)
				w = x.parent.right
			}
			w.color = x.parent.color
			x.parent.color = black
			w.right.color = black
			t.rotateLeft(x.parent)
			x = t.root
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.left.color == black {
				w.right.color = black
				w.color = red
				t.rotateLeft(w)
				w = x.parent.left
			}
			w.color = x.parent.color
			x.parent.color = black
			w.left.color = black
			t.rotateRight(x.parent)
			x = t.root
		}
	}
	x.color = black
}

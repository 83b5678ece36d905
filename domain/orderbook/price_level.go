package orderbook

// PriceLevel is the FIFO of order IDs resting at one price.
// Push order is time priority; removal by ID is O(1).
type PriceLevel struct {
	Price int64

	head *levelEntry
	tail *levelEntry

	index map[OrderID]*levelEntry
}

type levelEntry struct {
	id   OrderID
	next *levelEntry
	prev *levelEntry
}

func newPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{
		Price: price,
		index: make(map[OrderID]*levelEntry),
	}
}

// Push appends id at the back of the queue. It reports false if id is
// already queued.
func (p *PriceLevel) Push(id OrderID) bool {
	if _, ok := p.index[id]; ok {
		return false
	}
	e := &levelEntry{id: id}
	if p.tail == nil {
		p.head = e
		p.tail = e
	} else {
		p.tail.next = e
		e.prev = p.tail
		p.tail = e
	}
	p.index[id] = e
	return true
}

func (p *PriceLevel) Remove(id OrderID) bool {
	e, ok := p.index[id]
	if !ok {
		return false
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		p.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		p.tail = e.prev
	}
	e.next, e.prev = nil, nil
	delete(p.index, id)
	return true
}

// Head returns the oldest queued ID.
func (p *PriceLevel) Head() (OrderID, bool) {
	if p.head == nil {
		return 0, false
	}
	return p.head.id, true
}

func (p *PriceLevel) Contains(id OrderID) bool {
	_, ok := p.index[id]
	return ok
}

func (p *PriceLevel) Len() int {
	return len(p.index)
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// ForEach visits IDs oldest first until fn returns false.
func (p *PriceLevel) ForEach(fn func(OrderID) bool) {
	for e := p.head; e != nil; e = e.next {
		if !fn(e.id) {
			return
		}
	}
}

func (p *PriceLevel) IDs() []OrderID {
	ids := make([]OrderID, 0, len(p.index))
	p.ForEach(func(id OrderID) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

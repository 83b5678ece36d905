package orderbook

import "sort"

// userIndex maps an owner to the IDs of their resting limit orders and
// pending stop orders. Owners with no live orders are not kept.
type userIndex struct {
	byOwner map[string]map[OrderID]struct{}
}

func newUserIndex() *userIndex {
	return &userIndex{byOwner: make(map[string]map[OrderID]struct{})}
}

func (u *userIndex) add(owner string, id OrderID) {
	set, ok := u.byOwner[owner]
	if !ok {
		set = make(map[OrderID]struct{})
		u.byOwner[owner] = set
	}
	set[id] = struct{}{}
}

func (u *userIndex) remove(owner string, id OrderID) {
	set, ok := u.byOwner[owner]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(u.byOwner, owner)
	}
}

func (u *userIndex) contains(owner string, id OrderID) bool {
	_, ok := u.byOwner[owner][id]
	return ok
}

// ids returns a sorted copy; callers may keep it past the lock.
func (u *userIndex) ids(owner string) []OrderID {
	set := u.byOwner[owner]
	out := make([]OrderID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (u *userIndex) owners() int {
	return len(u.byOwner)
}

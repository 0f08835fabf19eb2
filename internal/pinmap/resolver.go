package pinmap

import (
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// Resolver tracks which entries of a Table have been requested during one
// build. A package pin is bound to at most one requested signal.
type Resolver struct {
	table     *Table
	requested map[key]*Signal
	order     []key
	pinOwner  map[string]string
}

func NewResolver(t *Table) *Resolver {
	return &Resolver{
		table:     t,
		requested: make(map[key]*Signal),
		pinOwner:  make(map[string]string),
	}
}

// Table returns the underlying board table.
func (r *Resolver) Table() *Table { return r.table }

// Request binds the (name, index) entry. Index Any takes the first instance
// not yet requested.
func (r *Resolver) Request(name string, index int) (*Signal, error) {
	idx, ok := r.table.groups[name]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, name, "no such signal on board")
	}
	if index == Any {
		for _, i := range idx {
			e := r.table.entries[i]
			if _, taken := r.requested[key{e.Name, e.Index}]; !taken {
				return r.bind(e)
			}
		}
		return nil, socerr.New(socerr.ResourceInUse, name, "all %d instances already requested", len(idx))
	}
	i, ok := r.table.byKey[key{name, index}]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, name, "no instance %d on board", index)
	}
	e := r.table.entries[i]
	if _, taken := r.requested[key{name, index}]; taken {
		return nil, socerr.New(socerr.ResourceInUse, e.String(), "already requested")
	}
	return r.bind(e)
}

// RequestAll binds every still-available instance of the named group, in
// index order.
func (r *Resolver) RequestAll(name string) ([]*Signal, error) {
	idx, ok := r.table.groups[name]
	if !ok {
		return nil, socerr.New(socerr.ResourceNotFound, name, "no such signal on board")
	}
	var out []*Signal
	for _, i := range idx {
		e := r.table.entries[i]
		if _, taken := r.requested[key{e.Name, e.Index}]; taken {
			continue
		}
		s, err := r.bind(e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, socerr.New(socerr.ResourceInUse, name, "all instances already requested")
	}
	return out, nil
}

// LookupRequest returns a previously requested signal. When it was never
// requested, loose mode returns (nil, nil) instead of an error.
func (r *Resolver) LookupRequest(name string, index int, loose bool) (*Signal, error) {
	if index == Any {
		for _, k := range r.order {
			if k.name == name {
				return r.requested[k], nil
			}
		}
	} else if s, ok := r.requested[key{name, index}]; ok {
		return s, nil
	}
	if loose {
		return nil, nil
	}
	return nil, socerr.New(socerr.ResourceNotFound, name, "signal was not requested")
}

// Reduce replaces a requested DDR signal by its lane-reduced form and frees
// the pins of the dropped lanes.
func (r *Resolver) Reduce(name string, index int, lanes []int) (*Signal, error) {
	s, err := r.LookupRequest(name, index, false)
	if err != nil {
		return nil, err
	}
	reduced, err := s.Reduce(lanes)
	if err != nil {
		return nil, err
	}
	for _, p := range s.AllPins() {
		delete(r.pinOwner, p)
	}
	for _, p := range reduced.AllPins() {
		r.pinOwner[p] = reduced.String()
	}
	r.requested[key{s.Name, s.Index}] = reduced
	return reduced, nil
}

// Requested returns every bound signal in request order.
func (r *Resolver) Requested() []*Signal {
	out := make([]*Signal, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.requested[k])
	}
	return out
}

func (r *Resolver) bind(e Entry) (*Signal, error) {
	pins := e.AllPins()
	for _, p := range pins {
		if owner, ok := r.pinOwner[p]; ok {
			return nil, socerr.New(socerr.ResourceInUse, e.String(), "pin %s already bound to %s", p, owner)
		}
	}
	s := newSignal(e, r.table.Count(e.Name) > 1)
	for _, p := range pins {
		r.pinOwner[p] = e.String()
	}
	k := key{e.Name, e.Index}
	r.requested[k] = s
	r.order = append(r.order, k)
	return s, nil
}

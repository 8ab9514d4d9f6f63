package imp

import (
	"sort"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// Registry holds the records of the current discovery, keyed by peripheral address.
type Registry struct {
	records atomic.Pointer[hashmap.Map[string, *Record]]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset drops every record.
func (r *Registry) Reset() {
	r.records.Store(hashmap.New[string, *Record]())
}

// GetOrCreate returns the record for address, creating it when unknown.
// created is true only for the caller that inserted the record.
func (r *Registry) GetOrCreate(address, name string) (rec *Record, created bool) {
	m := r.records.Load()
	if rec, ok := m.Get(address); ok {
		return rec, false
	}
	rec, loaded := m.GetOrInsert(address, NewRecord(address, name))
	return rec, !loaded
}

func (r *Registry) Get(address string) (*Record, bool) {
	return r.records.Load().Get(address)
}

func (r *Registry) Remove(address string) bool {
	return r.records.Load().Del(address)
}

func (r *Registry) Len() int {
	return r.records.Load().Len()
}

// Records returns all records ordered by name, then address.
func (r *Registry) Records() []*Record {
	var out []*Record
	r.records.Load().Range(func(_ string, rec *Record) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Name(), out[j].Name()
		if ni != nj {
			return ni < nj
		}
		return out[i].Address() < out[j].Address()
	})
	return out
}

// Ready returns the records whose identity probe completed, ordered like Records.
func (r *Registry) Ready() []*Record {
	all := r.Records()
	out := all[:0]
	for _, rec := range all {
		if rec.State() == Ready {
			out = append(out, rec)
		}
	}
	return out
}

package soc

import (
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

const (
	DefaultCSRPaging = 0x800
	DefaultCSRBanks  = 32
	DefaultCSRSize   = 0x1_0000
)

// CSRBank is a control/status register page owned by a peripheral.
type CSRBank struct {
	Name   string `json:"name"`
	Index  int    `json:"index"`
	Origin uint64 `json:"origin"`
}

// CSRMap allocates register banks inside the CSR region.
type CSRMap struct {
	base   uint64
	paging uint64
	n      int
	banks  []CSRBank
}

func NewCSRMap(base uint64) *CSRMap {
	return &CSRMap{base: base, paging: DefaultCSRPaging, n: DefaultCSRBanks}
}

// Add assigns the next free bank to name.
func (m *CSRMap) Add(name string) (CSRBank, error) {
	for _, b := range m.banks {
		if b.Name == name {
			return CSRBank{}, socerr.New(socerr.ResourceInUse, name, "CSR bank already assigned")
		}
	}
	if len(m.banks) >= m.n {
		return CSRBank{}, socerr.New(socerr.AddressConflictError, name, "all %d CSR banks in use", m.n)
	}
	idx := len(m.banks)
	b := CSRBank{Name: name, Index: idx, Origin: m.base + uint64(idx)*m.paging}
	m.banks = append(m.banks, b)
	return b, nil
}

// Banks returns the assigned banks in index order.
func (m *CSRMap) Banks() []CSRBank { return append([]CSRBank(nil), m.banks...) }

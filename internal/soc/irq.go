package soc

import (
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// IRQ is an interrupt line bound to a peripheral.
type IRQ struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// IRQMap allocates interrupt lines.
type IRQMap struct {
	n      int
	byLine map[int]string
	order  []IRQ
}

func NewIRQMap(n int) *IRQMap {
	return &IRQMap{n: n, byLine: map[int]string{}}
}

// Add binds name to line, or to the lowest free line when line is negative.
func (m *IRQMap) Add(name string, line int) (int, error) {
	if _, ok := m.Line(name); ok {
		return 0, socerr.New(socerr.ResourceInUse, name, "interrupt already assigned")
	}
	if line >= 0 {
		if line >= m.n {
			return 0, socerr.New(socerr.InterruptExhausted, name, "interrupt %d beyond the %d available", line, m.n)
		}
		if owner, taken := m.byLine[line]; taken {
			return 0, socerr.New(socerr.ResourceInUse, name, "interrupt %d already used by %s", line, owner)
		}
		m.bind(name, line)
		return line, nil
	}
	for l := 0; l < m.n; l++ {
		if _, taken := m.byLine[l]; !taken {
			m.bind(name, l)
			return l, nil
		}
	}
	return 0, socerr.New(socerr.InterruptExhausted, name, "all %d interrupts in use", m.n)
}

func (m *IRQMap) bind(name string, line int) {
	m.byLine[line] = name
	m.order = append(m.order, IRQ{Name: name, Line: line})
}

// Line returns the line bound to name.
func (m *IRQMap) Line(name string) (int, bool) {
	for _, irq := range m.order {
		if irq.Name == name {
			return irq.Line, true
		}
	}
	return 0, false
}

// IRQs returns the assignments in allocation order.
func (m *IRQMap) IRQs() []IRQ { return append([]IRQ(nil), m.order...) }

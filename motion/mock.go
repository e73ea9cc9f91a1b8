package motion

import (
	"errors"
	"sync"
	"time"
)

// ErrMockFault is returned by a Mock after FailAfter moves
var ErrMockFault = errors.New("mock controller fault")

// Mock is an in-memory controller.  Moves take Travel to complete, during
// which the axis reports not in position.
type Mock struct {
	sync.Mutex
	pos    map[string]float64
	arrive map[string]time.Time

	// Travel is how long each move takes
	Travel time.Duration

	// FailAfter, if > 0, makes every move after the first FailAfter fail
	FailAfter int

	// Moves counts successful move commands
	Moves int
}

// NewMock returns a mock controller with every axis at zero
func NewMock() *Mock {
	return &Mock{pos: make(map[string]float64), arrive: make(map[string]time.Time)}
}

// GetPos returns the commanded position of an axis
func (m *Mock) GetPos(axis string) (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.pos[axis], nil
}

// MoveAbs sets the position of an axis
func (m *Mock) MoveAbs(axis string, pos float64) error {
	m.Lock()
	defer m.Unlock()
	if m.FailAfter > 0 && m.Moves >= m.FailAfter {
		return ErrMockFault
	}
	m.Moves++
	m.pos[axis] = pos
	m.arrive[axis] = time.Now().Add(m.Travel)
	return nil
}

// MoveRel shifts the position of an axis
func (m *Mock) MoveRel(axis string, delta float64) error {
	m.Lock()
	cur := m.pos[axis]
	m.Unlock()
	return m.MoveAbs(axis, cur+delta)
}

// GetInPosition returns true once Travel has elapsed since the last move
func (m *Mock) GetInPosition(axis string) (bool, error) {
	m.Lock()
	defer m.Unlock()
	return !time.Now().Before(m.arrive[axis]), nil
}

// Home moves an axis to zero
func (m *Mock) Home(axis string) error {
	return m.MoveAbs(axis, 0)
}

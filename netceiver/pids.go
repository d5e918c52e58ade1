package netceiver

import "fmt"

// MaxPIDs is the number of PIDs a receiver session can filter at once.
const MaxPIDs = 64

// PIDSet is the ordered list of requested PIDs of one adapter.
type PIDSet struct {
	pids  [MaxPIDs]uint16
	count int
}

// Add appends pid. Duplicates and additions beyond MaxPIDs are refused.
func (s *PIDSet) Add(pid uint16) error {
	if s.Contains(pid) {
		return fmt.Errorf("%w: %d", ErrDuplicatePID, pid)
	}
	if s.count == MaxPIDs {
		return fmt.Errorf("%w: cannot add pid %d", ErrCapacityExceeded, pid)
	}
	s.pids[s.count] = pid
	s.count++
	return nil
}

// Remove deletes the first occurrence of pid and keeps the order of the
// remaining PIDs. It reports whether pid was found.
func (s *PIDSet) Remove(pid uint16) bool {
	for i := 0; i < s.count; i++ {
		if s.pids[i] != pid {
			continue
		}
		copy(s.pids[i:s.count], s.pids[i+1:s.count])
		s.count--
		s.pids[s.count] = 0
		return true
	}
	return false
}

func (s *PIDSet) Contains(pid uint16) bool {
	for i := 0; i < s.count; i++ {
		if s.pids[i] == pid {
			return true
		}
	}
	return false
}

func (s *PIDSet) Clear() {
	s.count = 0
}

func (s *PIDSet) Len() int {
	return s.count
}

// PIDs returns a copy of the PIDs in insertion order.
func (s *PIDSet) PIDs() []uint16 {
	result := make([]uint16, s.count)
	copy(result, s.pids[:s.count])
	return result
}

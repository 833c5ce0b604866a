package optimizer

import (
	"context"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/cost"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// localSearch improves order with adjacent swaps and relocations of
// non-emergency patients. Emergency patients keep their positions. Each
// iteration accepts the first improving move; the search stops when an
// iteration finds none, the iteration budget is spent, or ctx is done.
func localSearch(ctx context.Context, ev *cost.Evaluator, order []scheduler.Patient, maxIterations int) ([]scheduler.Patient, int) {
	pinned := make(map[int]scheduler.Patient)
	var movable []scheduler.Patient
	for i, p := range order {
		if p.Priority == scheduler.PriorityEmergency {
			pinned[i] = p
		} else {
			movable = append(movable, p)
		}
	}
	if len(movable) < 2 {
		return order, 0
	}

	merge := func(m []scheduler.Patient) []scheduler.Patient {
		out := make([]scheduler.Patient, 0, len(order))
		next := 0
		for i := 0; i < len(order); i++ {
			if p, ok := pinned[i]; ok {
				out = append(out, p)
				continue
			}
			out = append(out, m[next])
			next++
		}
		return out
	}

	best := ev.Cost(order)
	iterations := 0
	for iterations < maxIterations && ctx.Err() == nil {
		improved := false
		eachNeighbour(movable, func(cand []scheduler.Patient) bool {
			if ctx.Err() != nil {
				return true
			}
			if c := ev.Cost(merge(cand)); c < best-improvementEpsilon {
				best, movable, improved = c, cand, true
				return true
			}
			return false
		})
		if !improved {
			break
		}
		iterations++
	}
	return merge(movable), iterations
}

// eachNeighbour yields adjacent swaps first, then single-patient relocations,
// until fn returns true.
func eachNeighbour(m []scheduler.Patient, fn func([]scheduler.Patient) bool) {
	n := len(m)
	for i := 0; i+1 < n; i++ {
		c := append([]scheduler.Patient(nil), m...)
		c[i], c[i+1] = c[i+1], c[i]
		if fn(c) {
			return
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j == i || j == i+1 || j == i-1 {
				continue
			}
			if fn(relocate(m, i, j)) {
				return
			}
		}
	}
}

func relocate(m []scheduler.Patient, from, to int) []scheduler.Patient {
	p := m[from]
	rest := make([]scheduler.Patient, 0, len(m)-1)
	rest = append(rest, m[:from]...)
	rest = append(rest, m[from+1:]...)
	return insertAt(rest, to, p)
}

package workflow

import (
	"github.com/big3labs/waveflow/types"
)

// ComputeBatches partitions resolved steps into waves. Each wave holds every
// not-yet-batched step whose dependencies are all in earlier waves, so steps in
// one wave are mutually independent. Within a wave the input order is kept.
// Step status is never touched.
func ComputeBatches(resolved []*Step) ([][]string, error) {
	known := make(map[string]bool, len(resolved))
	for _, s := range resolved {
		known[s.ID] = true
	}
	for _, s := range resolved {
		for _, dep := range s.dependencies {
			if !known[dep] {
				return nil, types.NewStepNotFoundError(dep)
			}
		}
	}

	batched := make(map[string]bool, len(resolved))
	remaining := resolved
	var batches [][]string

	for len(remaining) > 0 {
		var batch []string
		var next []*Step

		for _, s := range remaining {
			if allBatched(s.dependencies, batched) {
				batch = append(batch, s.ID)
			} else {
				next = append(next, s)
			}
		}

		if len(batch) == 0 {
			// 没有任何可调度节点，说明剩余节点之间存在环
			s := next[0]
			return nil, types.NewCircularDependencyError(s.ID, s.dependencies[0])
		}

		// 本轮的节点全部选出后再标记，保证同一批次内互不依赖
		for _, id := range batch {
			batched[id] = true
		}
		batches = append(batches, batch)
		remaining = next
	}

	return batches, nil
}

func allBatched(deps []string, batched map[string]bool) bool {
	for _, d := range deps {
		if !batched[d] {
			return false
		}
	}
	return true
}

// ABOUTME: Builds the configured clock tree beneath the driver's root
// ABOUTME: Orders declarations by parent and applies initial rate and play state
package config

import (
	"fmt"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

// orderClocks returns decls sorted so every parent precedes its children.
// It rejects empty or duplicate names, unknown parents and cycles.
func orderClocks(decls []ClockConfig) ([]ClockConfig, error) {
	byName := make(map[string]ClockConfig, len(decls))
	for i, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("clocks[%d]: name is required", i)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("clocks[%d]: duplicate clock %q", i, d.Name)
		}
		if d.Name == RootClock && d.Parent != "" {
			return nil, fmt.Errorf("clocks[%d]: %q cannot have a parent", i, RootClock)
		}
		byName[d.Name] = d
	}
	for _, d := range decls {
		if d.Parent != "" && d.Parent != RootClock {
			if _, ok := byName[d.Parent]; !ok {
				return nil, fmt.Errorf("clock %q: unknown parent %q", d.Name, d.Parent)
			}
		}
	}

	ordered := make([]ClockConfig, 0, len(decls))
	placed := map[string]bool{RootClock: true}
	if d, ok := byName[RootClock]; ok {
		ordered = append(ordered, d)
	}
	for len(ordered) < len(decls) {
		progress := false
		for _, d := range decls {
			if placed[d.Name] {
				continue
			}
			parent := d.Parent
			if parent == "" {
				parent = RootClock
			}
			if placed[parent] {
				placed[d.Name] = true
				ordered = append(ordered, d)
				progress = true
			}
		}
		if !progress {
			return nil, fmt.Errorf("clocks: parent cycle among %d unresolved clocks", len(decls)-len(ordered))
		}
	}
	return ordered, nil
}

// BuildTree creates the declared clocks beneath root and returns every node
// by name, root included. Rates and play state take effect at the master's
// current time. A playing child of a stopped parent only records its request.
func BuildTree(root *playclock.FullClock, decls []ClockConfig) (map[string]*playclock.FullClock, error) {
	ordered, err := orderClocks(decls)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	nodes := map[string]*playclock.FullClock{RootClock: root}
	now := root.MasterMicros()

	// Create the whole shape first so starts cascade through finished subtrees.
	for _, d := range ordered {
		if d.Name == RootClock {
			continue
		}
		parent := d.Parent
		if parent == "" {
			parent = RootClock
		}
		nodes[d.Name] = nodes[parent].CreateNamedChild(d.Name)
	}

	for _, d := range ordered {
		node := nodes[d.Name]
		node.ClockRate(now, d.RateOrDefault())
		if d.Playing {
			node.ClockStart(now)
		} else {
			node.ClockStop(now)
		}
	}
	return nodes, nil
}

// RateOrDefault returns the configured rate, defaulting to 1/1.
func (c ClockConfig) RateOrDefault() frac.Frac {
	if c.Rate == nil {
		return frac.One
	}
	return c.Rate.Canonical()
}

// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package topology models the clock domains of the internal bus, the
// upstream sources each domain derives from at every operating level, and
// the ordering that moves every domain from one level to another.
package topology

import (
	"fmt"

	"github.com/platinasystems/busfreq/internal/opp"
)

// Source selects the upstream generator of a domain's divider.
type Source int

const (
	DirectMux Source = iota
	SourceC
	SourceD
	SourceM
	SourceI
	NSources
)

func (s Source) String() string {
	switch s {
	case DirectMux:
		return "sw_mux"
	case SourceC:
		return "c_pll"
	case SourceD:
		return "d_pll"
	case SourceM:
		return "m_pll"
	case SourceI:
		return "i_pll"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Clock names a node of the platform clock tree.
type Clock string

// Provider drives the platform clock tree. Each call is synchronous.
type Provider interface {
	Enable(Clock) error
	Disable(Clock) error
	SetParent(child, parent Clock) error
	SetRate(c Clock, hz uint64) error
}

// Acquirer is an optional Provider capability to claim a handle before use
// and give it back at shutdown.
type Acquirer interface {
	Acquire(Clock) error
	Release(Clock)
}

// Sources resolves a Source to the clock handle a domain is reparented to.
type Sources map[Source]Clock

// Setting is the frequency and source of a domain at one level.
type Setting struct {
	FreqKHz uint32
	Source  Source
}

// Domain is one clock branch. Gate is the domain's own mux, Parent the divider
// feeding it, and Grandparent, if any, the mux feeding that divider.
type Domain struct {
	ID          DomainID
	Name        string
	Gate        Clock
	Parent      Clock
	Grandparent Clock
	Settings    []Setting
}

// upstream is the stage that is switched to a new source.
func (d *Domain) upstream() Clock {
	if len(d.Grandparent) > 0 {
		return d.Grandparent
	}
	return d.Parent
}

func (d *Domain) String() string { return d.Name }

type Topology struct {
	domains [NDomains]Domain
	order   []DomainID
	sources Sources
	levels  int
}

// New builds the domain arena from the given table set. Every domain must
// have a setting for each of the set's levels and every source the settings
// name, other than one never switched to, must resolve.
func New(set *TableSet, sources Sources) (*Topology, error) {
	t := &Topology{
		sources: sources,
		levels:  set.Levels,
		order:   make([]DomainID, 0, len(set.Domains)),
	}
	seen := make(map[DomainID]bool)
	for _, d := range set.Domains {
		if d.ID < 0 || d.ID >= NDomains {
			return nil, fmt.Errorf("%s: invalid domain id %d",
				d.Name, d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%s: duplicate domain", d.Name)
		}
		if len(d.Settings) != set.Levels {
			return nil, fmt.Errorf("%s: %d settings for %d levels",
				d.Name, len(d.Settings), set.Levels)
		}
		if len(d.Gate) == 0 || len(d.Parent) == 0 {
			return nil, fmt.Errorf("%s: missing clock", d.Name)
		}
		used := make(map[Source]bool)
		for _, s := range d.Settings {
			used[s.Source] = true
		}
		for s := range used {
			if _, found := sources[s]; !found && len(used) > 1 {
				return nil, fmt.Errorf("%s: %v: no source",
					d.Name, s)
			}
		}
		seen[d.ID] = true
		t.domains[d.ID] = d
		t.order = append(t.order, d.ID)
	}
	return t, nil
}

// Levels returns the number of levels every domain is tabled for.
func (t *Topology) Levels() int { return t.levels }

// Domains returns a copy of each domain in registration order.
func (t *Topology) Domains() []Domain {
	ds := make([]Domain, 0, len(t.order))
	for _, id := range t.order {
		ds = append(ds, t.domains[id])
	}
	return ds
}

// Domain returns the domain with the given id.
func (t *Topology) Domain(id DomainID) (Domain, bool) {
	for _, x := range t.order {
		if x == id {
			return t.domains[id], true
		}
	}
	return Domain{}, false
}

// Clocks lists each distinct handle used by the topology: sources in Source
// order, then each domain's gate, parent, and grandparent.
func (t *Topology) Clocks() []Clock {
	var clocks []Clock
	seen := make(map[Clock]bool)
	add := func(c Clock) {
		if len(c) > 0 && !seen[c] {
			seen[c] = true
			clocks = append(clocks, c)
		}
	}
	for s := DirectMux; s < NSources; s++ {
		add(t.sources[s])
	}
	for _, id := range t.order {
		d := &t.domains[id]
		add(d.Gate)
		add(d.Parent)
		add(d.Grandparent)
	}
	return clocks
}

// Apply moves every domain from level prev to level target. Rising says that
// the target bus frequency is above the previous one. The first failed
// provider call stops the walk and is returned.
func (t *Topology) Apply(p Provider, prev, target opp.Level, rising bool) error {
	if prev < 0 || int(prev) >= t.levels {
		return fmt.Errorf("previous level %d: out of range", prev)
	}
	if target < 0 || int(target) >= t.levels {
		return fmt.Errorf("target level %d: out of range", target)
	}
	for _, id := range t.order {
		if err := t.apply(p, &t.domains[id], prev, target, rising); err != nil {
			return fmt.Errorf("%s: %w", t.domains[id].Name, err)
		}
	}
	return nil
}

func (t *Topology) apply(p Provider, d *Domain, prev, target opp.Level,
	rising bool) error {
	from, to := d.Settings[prev], d.Settings[target]
	hz := uint64(to.FreqKHz) * 1000

	if from.Source == to.Source {
		return setRate(p, d.Parent, hz)
	}
	if from.FreqKHz == to.FreqKHz {
		return nil
	}
	src, found := t.sources[to.Source]
	if !found {
		return fmt.Errorf("%v: no source", to.Source)
	}
	if to.Source == DirectMux {
		return setParent(p, d.Gate, src)
	}
	if rising {
		if err := setParent(p, d.upstream(), src); err != nil {
			return err
		}
		if err := setParent(p, d.Gate, d.Parent); err != nil {
			return err
		}
		if err := setRate(p, d.Parent, hz); err != nil {
			return err
		}
	} else {
		if err := setRate(p, d.Parent, hz); err != nil {
			return err
		}
		if err := setParent(p, d.Gate, d.Parent); err != nil {
			return err
		}
		if err := setParent(p, d.upstream(), src); err != nil {
			return err
		}
	}
	// the divider isn't carried across the source switch, set it again
	return setRate(p, d.Parent, hz)
}

func setRate(p Provider, c Clock, hz uint64) error {
	if err := p.SetRate(c, hz); err != nil {
		return fmt.Errorf("set rate %s %d: %w", c, hz, err)
	}
	return nil
}

func setParent(p Provider, child, parent Clock) error {
	if err := p.SetParent(child, parent); err != nil {
		return fmt.Errorf("set parent %s %s: %w", child, parent, err)
	}
	return nil
}

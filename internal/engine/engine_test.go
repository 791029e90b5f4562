// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package engine

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/platinasystems/busfreq/internal/fake"
	"github.com/platinasystems/busfreq/internal/opp"
	"github.com/platinasystems/busfreq/internal/test"
	"github.com/platinasystems/busfreq/internal/topology"
)

type rig struct {
	*Engine
	r     *fake.Recorder
	ticks *fake.Ticks
	set   *topology.TableSet
}

func resources(t testing.TB, set *topology.TableSet, r *fake.Recorder,
	ticks *fake.Ticks) Resources {
	topo, err := topology.New(set, topology.DefaultSources())
	if err != nil {
		t.Fatal(err)
	}
	points := opp.Exynos5420()
	for _, l := range set.Missing {
		points.Disable(l)
	}
	return Resources{
		Points:    points,
		Topology:  topo,
		Clocks:    r,
		Regulator: r,
		Load:      r,
		Clock:     ticks,
	}
}

func newRig(t testing.TB, initialKHz uint32) *rig {
	set, err := topology.Tables(topology.Standard)
	if err != nil {
		t.Fatal(err)
	}
	r := fake.New()
	r.VoltUV = 987500
	ticks := &fake.Ticks{}
	cfg := DefaultConfig(set)
	cfg.InitialFreqKHz = initialKHz
	e, err := New(cfg, resources(t, set, r, ticks))
	if err != nil {
		t.Fatal(err)
	}
	r.Reset()
	return &rig{e, r, ticks, set}
}

func aux(line string) bool {
	return strings.HasSuffix(line, " fout_spll") ||
		strings.HasPrefix(line, "parent fout_ipll ")
}

func domain(line string) bool {
	return !aux(line) && (strings.HasPrefix(line, "rate ") ||
		strings.HasPrefix(line, "parent "))
}

func voltage(lines []string) int {
	for i, line := range lines {
		if strings.HasPrefix(line, "volt ") {
			return i
		}
	}
	return -1
}

func TestInit(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	s := x.Snapshot()
	assert.True(s.Level == opp.LV2)
	assert.True(s.FreqKHz == 400000)
	assert.True(s.VoltUV == 987500)
	assert.True(s.Fast)
	assert.False(s.Isolated)
	assert.True(x.r.IsEnabled("fout_spll"))
	assert.True(x.State() == Idle)

	// 450000 floors to 440000
	y := newRig(t, 450000)
	assert.True(y.Snapshot().Level == opp.LV1_3)
	assert.True(y.Snapshot().Isolated)
	assert.True(y.r.Parent("fout_ipll") == "ipll")
}

func TestRisingVoltageLeads(t *testing.T) {
	x := newRig(t, 400000)
	freqs := x.FrequencyTable()
	for _, from := range freqs {
		for _, to := range freqs {
			if from >= to {
				continue
			}
			if err := x.RequestFrequency(from); err != nil {
				t.Fatal(err)
			}
			x.r.Reset()
			if err := x.RequestFrequency(to); err != nil {
				t.Fatal(err)
			}
			calls := x.r.Calls()
			v := voltage(calls)
			if v < 0 {
				t.Fatalf("%d to %d: no voltage set", from, to)
			}
			for i, line := range calls {
				if domain(line) && i < v {
					t.Fatalf("%d to %d: %q before voltage",
						from, to, line)
				}
				if strings.HasPrefix(line, "enable ") && i > v {
					t.Fatalf("%d to %d: %q after voltage",
						from, to, line)
				}
			}
		}
	}
}

func TestFallingVoltageTrails(t *testing.T) {
	x := newRig(t, 400000)
	freqs := x.FrequencyTable()
	for _, from := range freqs {
		for _, to := range freqs {
			if from <= to {
				continue
			}
			if err := x.RequestFrequency(from); err != nil {
				t.Fatal(err)
			}
			x.r.Reset()
			if err := x.RequestFrequency(to); err != nil {
				t.Fatal(err)
			}
			calls := x.r.Calls()
			v := voltage(calls)
			if v < 0 {
				t.Fatalf("%d to %d: no voltage set", from, to)
			}
			for i, line := range calls {
				if domain(line) && i > v {
					t.Fatalf("%d to %d: %q after voltage",
						from, to, line)
				}
			}
		}
	}
}

func TestSameFrequency(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	before := x.Snapshot()
	x.ticks.Advance(5)
	assert.Nil(x.RequestFrequency(400000))
	assert.True(len(x.r.Calls()) == 0)
	assert.Same(x.Snapshot(), before)
	assert.Same(x.ResidencyTable()[opp.LV2],
		opp.Residency{FreqKHz: 400000, Ticks: 5})
}

func TestFallingScenario(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 600000)
	x.r.VoltUV = 1075000
	assert.True(x.Snapshot().Isolated)
	assert.Nil(x.RequestFrequency(400000))
	calls := x.r.Calls()
	n := len(calls)
	assert.True(n > 2)
	assert.Equal(calls[n-2], "volt 987500 993750")
	assert.Equal(calls[n-1], "parent fout_ipll ext_xtal")
	assert.True(voltage(calls) == n-2)
	found := false
	for _, line := range calls {
		found = found || line == "rate aclk_400_isp_dout 67000000"
	}
	assert.True(found)
	st, err := x.Status()
	assert.Nil(err)
	assert.True(st.FrequencyHz == 400000000)
	assert.True(st.VoltageUV == 987500)
	assert.True(x.Snapshot().Fast)
	assert.False(x.Snapshot().Isolated)
}

func TestInvalidOperatingPoint(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	x.r.Busy, x.r.Total = 10, 20
	before, err := x.Status()
	assert.Nil(err)
	snap := x.Snapshot()
	x.ticks.Advance(3)
	err = x.RequestFrequency(999999)
	assert.True(IsKind(err, InvalidOperatingPoint))
	assert.Error(err, opp.ErrNotFound)
	after, err := x.Status()
	assert.Nil(err)
	assert.Same(after, before)
	assert.Same(after, Status{400000000, 987500, 10, 20})
	assert.Same(x.Snapshot(), snap)
	assert.True(len(x.r.Calls()) == 0)
	for _, r := range x.ResidencyTable() {
		assert.True(r.Ticks == 0)
	}
}

func TestAuxBands(t *testing.T) {
	x := newRig(t, 400000)
	freqs := x.FrequencyTable()
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		f := freqs[rng.Intn(len(freqs))]
		if err := x.RequestFrequency(f); err != nil {
			t.Fatal(err)
		}
		s := x.Snapshot()
		fast := s.Level <= x.set.FastBand
		iso := s.Level <= x.set.IsolatedBand
		if s.Fast != fast || x.r.IsEnabled("fout_spll") != fast {
			t.Fatalf("%d kHz: fast source %v", f, s.Fast)
		}
		if s.Isolated != iso ||
			(x.r.Parent("fout_ipll") == "ipll") != iso {
			t.Fatalf("%d kHz: isolated source %v", f, s.Isolated)
		}
	}
}

func TestResidencyClosure(t *testing.T) {
	x := newRig(t, 400000)
	freqs := x.FrequencyTable()
	rng := rand.New(rand.NewSource(7))
	var elapsed uint64
	for i := 0; i < 500; i++ {
		n := uint64(rng.Intn(20))
		x.ticks.Advance(n)
		elapsed += n
		if err := x.RequestFrequency(freqs[rng.Intn(len(freqs))]); err != nil {
			t.Fatal(err)
		}
	}
	var sum uint64
	for _, r := range x.ResidencyTable() {
		sum += r.Ticks
	}
	if sum != elapsed {
		t.Fatalf("%d ticks charged in %d", sum, elapsed)
	}
}

func TestThermalEdge(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	var edges []bool
	x.SetHooks(Hooks{
		ThermalEdge: func(cold bool, err error) {
			if err != nil {
				t.Error(err)
			}
			edges = append(edges, cold)
		},
	})
	assert.Nil(x.RequestFrequency(222000))
	assert.True(x.r.VoltUV == 950000)
	x.r.Reset()

	assert.Nil(x.ThermalEdge(true))
	assert.Lines(x.r.Calls(), "volt 987500 993750")
	s := x.Snapshot()
	assert.True(s.Cold())
	assert.True(s.VoltUV == 987500)
	assert.True(s.Level == opp.LV4)

	x.r.Reset()
	assert.Nil(x.ThermalEdge(true))
	assert.True(len(x.r.Calls()) == 0)

	assert.Nil(x.RequestFrequency(133000))
	calls := x.r.Calls()
	assert.Equal(calls[voltage(calls)], "volt 987500 993750")

	x.r.Reset()
	assert.Nil(x.ThermalEdge(false))
	assert.Lines(x.r.Calls(), "volt 950000 956250")
	assert.False(x.Snapshot().Cold())
	assert.Same(edges, []bool{true, true, false})
}

func TestThermalFailure(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	x.r.FailOn("volt")
	before := x.Snapshot()
	err := x.ThermalEdge(true)
	assert.True(IsKind(err, RegulatorFailure))
	assert.Error(err, fake.ErrInjected)
	assert.Same(x.Snapshot(), before)
	// the offset wasn't committed so the edge is retried
	x.r.Reset()
	assert.True(IsKind(x.ThermalEdge(true), RegulatorFailure))
	assert.True(len(x.r.Calls()) == 1)
}

func TestClockFailure(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	x.r.FailOn("rate aclk_100_noc")
	before := x.Snapshot()
	err := x.RequestFrequency(600000)
	assert.True(IsKind(err, ClockProviderFailure))
	assert.Error(err, fake.ErrInjected)
	assert.Same(x.Snapshot(), before)
	assert.True(x.State() == Idle)
	calls := x.r.Calls()
	assert.Equal(calls[len(calls)-1], "rate aclk_100_noc_dout 100000000")
}

func TestRegulatorFailure(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	x.r.FailOn("volt")
	before := x.Snapshot()
	err := x.RequestFrequency(600000)
	assert.True(IsKind(err, RegulatorFailure))
	assert.Same(x.Snapshot(), before)
	for _, line := range x.r.Calls() {
		if domain(line) {
			t.Fatal(line, "after regulator failure")
		}
	}
}

func reversed(clocks []topology.Clock) []topology.Clock {
	rev := make([]topology.Clock, len(clocks))
	for i, c := range clocks {
		rev[len(clocks)-1-i] = c
	}
	return rev
}

func TestInitFailure(t *testing.T) {
	assert := test.Assert{TB: t}
	set, _ := topology.Tables(topology.Standard)
	for _, x := range []struct {
		name  string
		setup func(*fake.Recorder, *Config)
	}{
		{"missing clock", func(r *fake.Recorder, cfg *Config) {
			r.Missing("aclk_266_dout")
		}},
		{"missing feed", func(r *fake.Recorder, cfg *Config) {
			r.Missing("ext_xtal")
		}},
		{"regulator", func(r *fake.Recorder, cfg *Config) {
			r.FailOn("voltage")
		}},
		{"no floor", func(r *fake.Recorder, cfg *Config) {
			cfg.InitialFreqKHz = 1000
		}},
		{"fast source", func(r *fake.Recorder, cfg *Config) {
			r.FailOn("enable fout_spll")
		}},
	} {
		r := fake.New()
		cfg := DefaultConfig(set)
		x.setup(r, &cfg)
		_, err := New(cfg, resources(t, set, r, &fake.Ticks{}))
		if !IsKind(err, InitializationFailure) {
			t.Fatal(x.name, err)
		}
		acquired := r.Acquired()
		if x.name != "missing clock" {
			assert.True(len(acquired) > 0)
		}
		assert.Same(r.Released(), reversed(acquired))
	}
	_, err := New(DefaultConfig(set), Resources{})
	assert.True(IsKind(err, InitializationFailure))
}

func TestWQXGA(t *testing.T) {
	assert := test.Assert{TB: t}
	set, err := topology.Tables(topology.WQXGA)
	assert.Nil(err)
	r := fake.New()
	cfg := DefaultConfig(set)
	e, err := New(cfg, resources(t, set, r, &fake.Ticks{}))
	assert.Nil(err)
	assert.True(IsKind(e.RequestFrequency(83000), InvalidOperatingPoint))
	// LV3 is in the widened fast band
	assert.Nil(e.RequestFrequency(333000))
	assert.True(e.Snapshot().Fast)
	assert.Nil(e.RequestFrequency(222000))
	assert.False(e.Snapshot().Fast)

	res := resources(t, set, fake.New(), &fake.Ticks{})
	res.Points = opp.Exynos5420()
	_, err = New(cfg, res)
	assert.True(IsKind(err, InitializationFailure))
	assert.Error(err, "initialization failure: 83000 kHz: no domain settings")
}

func TestShutdown(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	var done []error
	x.SetHooks(Hooks{Shutdown: func(err error) { done = append(done, err) }})
	assert.Nil(x.RequestFrequency(600000))
	assert.Nil(x.Shutdown())
	assert.True(x.Snapshot().FreqKHz == 400000)
	assert.True(len(done) == 1 && done[0] == nil)
	acquired := x.r.Acquired()
	assert.True(len(acquired) > 0)
	assert.Same(x.r.Released(), reversed(acquired))
	assert.Error(x.RequestFrequency(600000), ErrClosed)
	assert.Error(x.ThermalEdge(true), ErrClosed)
	assert.Error(x.Shutdown(), ErrClosed)
}

func TestCommitHook(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	var commits []Snapshot
	x.SetHooks(Hooks{Commit: func(s Snapshot) {
		commits = append(commits, s)
	}})
	assert.Nil(x.RequestFrequency(222000))
	assert.Nil(x.RequestFrequency(222000))
	assert.True(IsKind(x.RequestFrequency(1), InvalidOperatingPoint))
	assert.True(len(commits) == 1)
	assert.True(commits[0].FreqKHz == 222000)
	assert.Same(commits[0], x.Snapshot())
}

func TestVoltageTable(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	assert.Nil(x.SetVoltage(400000, 951000))
	assert.Same(x.VoltageTable()[opp.LV2],
		opp.Voltage{FreqKHz: 400000, VoltUV: 956250})
	assert.Nil(x.RequestFrequency(600000))
	x.r.Reset()
	assert.Nil(x.RequestFrequency(400000))
	calls := x.r.Calls()
	assert.Equal(calls[voltage(calls)], "volt 956250 962500")

	assert.Nil(x.SetVoltageTable([]uint32{1100000}))
	assert.True(x.VoltageTable()[opp.LV0].VoltUV == 1100000)
	assert.True(x.SetVoltageTable(make([]uint32, 11)) != nil)
}

func TestConcurrent(t *testing.T) {
	x := newRig(t, 400000)
	freqs := x.FrequencyTable()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 100; j++ {
				f := freqs[rng.Intn(len(freqs))]
				if err := x.RequestFrequency(f); err != nil {
					t.Error(err)
					return
				}
			}
		}(int64(i))
	}
	stop := make(chan struct{})
	var errs []error
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := x.Snapshot()
			p, _ := x.points.Point(s.Level)
			if p.FreqKHz != s.FreqKHz {
				errs = append(errs, errors.New("torn snapshot"))
				return
			}
		}
	}()
	wg.Wait()
	close(stop)
	readers.Wait()
	for _, err := range errs {
		t.Error(err)
	}
}

func TestFormat(t *testing.T) {
	assert := test.Assert{TB: t}
	assert.Equal(FormatFrequencies([]uint32{600000, 500000}),
		"600000 500000")
	assert.Equal(FormatResidency([]opp.Residency{
		{FreqKHz: 600000, Ticks: 3},
		{FreqKHz: 500000},
	}), "600000 3\n500000 0\n")
	assert.Equal(FormatVoltages([]opp.Voltage{
		{FreqKHz: 600000, VoltUV: 1075000},
	}), "600000 1075000\n")
}

func TestAuxAfterFailure(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, 400000)
	s := x.Snapshot()
	assert.True(s.Fast)
	assert.False(s.Isolated)

	x.r.FailOn("rate aclk_100_noc")
	err := x.RequestFrequency(600000)
	assert.True(IsKind(err, ClockProviderFailure))
	assert.True(x.r.Parent("fout_ipll") == "ipll")
	assert.False(x.Snapshot().Isolated)

	// the next publish carries the source the failed request fed
	x.r.Heal()
	assert.Nil(x.ThermalEdge(true))
	s = x.Snapshot()
	assert.True(s.Level == opp.LV2)
	assert.True(s.Isolated)

	x.r.Reset()
	assert.Nil(x.RequestFrequency(333000))
	s = x.Snapshot()
	assert.True(s.Level == opp.LV3)
	assert.False(s.Isolated)
	assert.False(s.Fast)
	assert.True(x.r.Parent("fout_ipll") == "ext_xtal")
}

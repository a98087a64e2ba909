package fsensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapperRules(t *testing.T) {
	r, err := NewRouter(switches("e0", "e1"), []Sensor{NewSwitchSensor(SwitchConfig{Name: "s0"})}, NewMMUSensor("mmu"))
	require.NoError(t, err)
	m := NewMapper(r)

	tests := []struct {
		name string
		topo Topology
		want map[Logical]string
	}{
		{
			name: "no tool",
			topo: Topology{Tool: NoTool},
			want: map[Logical]string{CurrentExtruder: "", CurrentSide: "", PrimaryRunout: "", SecondaryRunout: "", Autoload: ""},
		},
		{
			name: "extruder only",
			topo: Topology{Tool: 1},
			want: map[Logical]string{CurrentExtruder: "e1", CurrentSide: "", PrimaryRunout: "e1", SecondaryRunout: "", Autoload: "e1"},
		},
		{
			name: "side sensor",
			topo: Topology{Tool: 0},
			want: map[Logical]string{CurrentExtruder: "e0", CurrentSide: "s0", PrimaryRunout: "s0", SecondaryRunout: "e0", Autoload: "e0"},
		},
		{
			name: "mmu",
			topo: Topology{Tool: 0, MMU: true},
			want: map[Logical]string{CurrentExtruder: "e0", CurrentSide: "s0", PrimaryRunout: "mmu", SecondaryRunout: "e0", Autoload: ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Build(tt.topo).Names())
		})
	}
}

func TestMapperMMUIgnoredWithoutSensor(t *testing.T) {
	r, err := NewRouter(switches("e0"), nil, nil)
	require.NoError(t, err)
	mp := NewMapper(r).Build(Topology{Tool: 0, MMU: true})
	assert.Equal(t, "e0", mp.Get(PrimaryRunout).Name())
	assert.Equal(t, "e0", mp.Get(Autoload).Name())
}

func TestMapperReconfigureIfNeeded(t *testing.T) {
	r, err := NewRouter(switches("e0", "e1"), nil, nil)
	require.NoError(t, err)
	m := NewMapper(r)
	assert.Nil(t, m.Resolve(CurrentExtruder))

	assert.True(t, m.ReconfigureIfNeeded(Topology{Tool: 0}, false))
	first := m.Current()
	assert.Equal(t, "e0", m.Resolve(CurrentExtruder).Name())

	assert.False(t, m.ReconfigureIfNeeded(Topology{Tool: 0}, false))
	assert.Same(t, first, m.Current())

	assert.True(t, m.ReconfigureIfNeeded(Topology{Tool: 0}, true))
	assert.NotSame(t, first, m.Current())

	assert.True(t, m.ReconfigureIfNeeded(Topology{Tool: 1}, false))
	assert.Equal(t, "e1", m.Resolve(CurrentExtruder).Name())
}

package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddedKeysAlwaysMayContain(t *testing.T) {
	f := New(1000, 0.01)
	keys := []string{"alpha", "beta", "gamma", "delta"}
	for _, k := range keys {
		f.Add(k)
	}
	for _, k := range keys {
		assert.True(t, f.MayContain(k))
	}
}

func TestNeverAddedKeyIsUsuallyAbsent(t *testing.T) {
	f := New(1000, 0.01)
	f.Add("present")
	assert.False(t, f.MayContain("definitely-not-present-xyz"))
}

func TestResetClearsFilter(t *testing.T) {
	f := New(100, 0.01)
	f.Add("k")
	require := assert.New(t)
	require.True(f.MayContain("k"))
	f.Reset()
	require.False(f.MayContain("k"))
}

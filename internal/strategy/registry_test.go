package strategy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/config"
	"github.com/aristath/coffer/internal/domain"
)

// TestRegistry_RegisterAndGet covers registration order and lookups.
func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	a := NewStaticRateAdapter(BaseConfig{Name: "venue-a", Log: zerolog.Nop()}, 1)
	b := NewStaticRateAdapter(BaseConfig{Name: "venue-b", Log: zerolog.Nop()}, 1)
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))

	assert.Equal(t, []string{"venue-a", "venue-b"}, registry.Names())
	assert.Len(t, registry.List(), 2)

	got, err := registry.Get("venue-b")
	require.NoError(t, err)
	assert.Equal(t, "venue-b", got.StrategyName())

	_, err = registry.Get("venue-z")
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

// TestRegistry_DuplicateName verifies venue names are unique.
func TestRegistry_DuplicateName(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	a := NewStaticRateAdapter(BaseConfig{Name: "venue-a", Log: zerolog.Nop()}, 1)
	require.NoError(t, registry.Register(a))

	dup := NewStaticRateAdapter(BaseConfig{Name: "venue-a", Log: zerolog.Nop()}, 1)
	err := registry.Register(dup)
	assert.ErrorContains(t, err, "already registered")
}

// TestBuildRegistry verifies variant resolution from venue configuration.
func TestBuildRegistry(t *testing.T) {
	venues := []config.VenueConfig{
		{Name: "sim-lend", Kind: config.VenueKindStatic, RateBps: 450},
		{Name: "compound", Kind: config.VenueKindRest, BaseURL: "http://venue.host:9020"},
	}

	registry, err := BuildRegistry(venues, testDeployer, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"sim-lend", "compound"}, registry.Names())

	sim, err := registry.Get("sim-lend")
	require.NoError(t, err)
	assert.IsType(t, (*StaticRateAdapter)(nil), sim)
	assert.Equal(t, int64(450), sim.EstimatedAPY())

	comp, err := registry.Get("compound")
	require.NoError(t, err)
	assert.IsType(t, (*RESTAdapter)(nil), comp)
}

// TestBuildRegistry_UnknownKind verifies configuration errors surface.
func TestBuildRegistry_UnknownKind(t *testing.T) {
	venues := []config.VenueConfig{
		{Name: "venue-a", Kind: "ftp"},
	}

	_, err := BuildRegistry(venues, testDeployer, nil, nil, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown kind")
}

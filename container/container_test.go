package container

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kbrag/config"
)

func TestModelEndpointCopiesAllFields(t *testing.T) {
	m := config.ModelConfig{BaseURL: "http://x", APIKey: "k", Model: "m", RequestsPerSec: 5, Burst: 2, TokensPerMinute: 100, MaxRetries: 3}
	ep := modelEndpoint(m)
	require.Equal(t, "http://x", ep.BaseURL)
	require.Equal(t, "k", ep.APIKey)
	require.Equal(t, "m", ep.Model)
	require.Equal(t, 5.0, ep.RequestsPerSec)
	require.Equal(t, 2, ep.Burst)
	require.Equal(t, 100, ep.TokensPerMinute)
	require.Equal(t, 3, ep.MaxRetries)
}

func TestCloseRunsClosersInReverseOrderAndReturnsFirstError(t *testing.T) {
	var order []int
	c := &Container{}
	c.closers = []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("boom") },
		func() error { order = append(order, 3); return nil },
	}

	err := c.Close()
	require.EqualError(t, err, "boom")
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestCloseWithNoClosersReturnsNil(t *testing.T) {
	c := &Container{}
	require.NoError(t, c.Close())
}

package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	require.Nil(t, tel.Registry)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ExportsToRegistry(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "bonsaidb-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	counter, err := tel.Meter.Int64Counter("bonsai.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "bonsai_test_events") {
			found = true
		}
	}
	require.True(t, found, "counter missing from registry")
}

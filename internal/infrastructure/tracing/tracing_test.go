package tracing

import (
	"context"
	"testing"

	"walletledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), &config.TracingConfig{ServiceName: "wallet-ledger"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

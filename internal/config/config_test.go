package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/tickets"
chain:
  chain_id: "ticketnet-1"
  rpc_endpoints: ["http://node-a:26657", "http://node-b:26657"]
orders:
  ttl_minutes: 30
worker:
  max_attempts: 4
`

func TestParse_DefaultsAndValues(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Len(t, cfg.Chain.RPCEndpoints, 2)
	assert.Equal(t, 30*time.Minute, cfg.OrderTTL())
	assert.Equal(t, 4, cfg.Worker.MaxAttempts)
	assert.Equal(t, int32(2), cfg.Settlement.CurrencyPlaces)
	assert.Equal(t, "platform", cfg.Settlement.UnorganizedRevenue)
	assert.Equal(t, 20*time.Second, cfg.WorkerInterval())
	assert.Equal(t, 10, cfg.Orders.MaxQuantity)
	assert.Equal(t, "ticketmint-workers", cfg.Redis.ConsumerGroup)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", " http://x:1 , ,http://y:2")
	t.Setenv("WORKER_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("ORDER_MAX_QUANTITY", "4")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"http://x:1", "http://y:2"}, cfg.Chain.RPCEndpoints)
	assert.Equal(t, 4, cfg.Worker.MaxAttempts)
	assert.Equal(t, 4, cfg.Orders.MaxQuantity)
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte(`server: {addr: ":1"}`))
	assert.EqualError(t, err, "db.dsn is required")

	_, err = Parse([]byte(sample + "\nsettlement:\n  unorganized_revenue: organizer\n"))
	assert.Error(t, err)
}

func TestLoad_FromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ticketnet-1", cfg.Chain.ChainID)
}

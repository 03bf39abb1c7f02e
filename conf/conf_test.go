package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestConf(t *testing.T) {
	content, err := os.ReadFile(filepath.Join("test", "conf.yaml"))
	require.NoError(t, err)
	t.Setenv("MPESA_PASSKEY", "from-env")
	t.Setenv("KES_POSTGRES_DSN", "")

	c, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, "platform-fees", c.Engine.FeeAccountID)
	assert.Equal(t, 15*time.Minute, c.Engine.ExpiryWindow)
	assert.Equal(t, "local", c.Engine.RateLimit.Backend)
	assert.Equal(t, Bucket{Capacity: 10, RefillPerSecond: 0.5}, c.Engine.RateLimit.Classes["trade"])
	assert.Len(t, c.Engine.Fees.DepositTiers, 14)
	assert.Equal(t, "from-env", c.Mpesa.PassKey)
	assert.Contains(t, c.Postgres.DSN, "kes_wallet")
}

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
hertz: {service: kes-wallet, address: ":8080"}
postgres: {dsn: "postgres://localhost/kes"}
engine: {fee_account_id: fees}
`))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Engine.Instances)
	assert.Equal(t, int32(2), c.Engine.Fees.Scale)
	assert.Equal(t, 30*time.Second, c.Engine.SweepInterval)
	assert.Equal(t, "sandbox", c.Mpesa.Environment)
	assert.Equal(t, 15*time.Second, c.Mpesa.Timeout)
}

func TestParseRejectsMissingFeeAccount(t *testing.T) {
	_, err := Parse([]byte(`
hertz: {service: kes-wallet, address: ":8080"}
postgres: {dsn: "postgres://localhost/kes"}
`))
	assert.Error(t, err)
}

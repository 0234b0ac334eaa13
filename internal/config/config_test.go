package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigTOML = `
[mining_server]
listening_port = 34254
pub_key = "mypubkey"
priv_key = "myprivkey"
cert_validity = 3600
inactivity_limit = 60
coinbase_output_address = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
coinbase_tag = "pleb"
share_batch_size = 10
expected_shares_per_minute = 1.0
max_additional_size = 100
max_additional_sigops = 1

[template_distribution]
server_addr = "127.0.0.1:8442"
auth_pk = ""

[web]
listening_port = 8080
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pleblottery.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfigTOML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(34254), cfg.MiningServer.ListeningPort)
	assert.Equal(t, "pleb", cfg.MiningServer.CoinbaseTag)
	assert.Equal(t, "127.0.0.1:8442", cfg.TemplateDistribution.ServerAddr)
	assert.Equal(t, uint16(8080), cfg.Web.ListeningPort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestValidate_RejectsOversizedCoinbaseTag(t *testing.T) {
	cfg := &Config{MiningServer: MiningServerConfig{
		CoinbaseTag:           "waytoolongtag",
		CoinbaseOutputAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		ShareBatchSize:        1,
		ListeningPort:         1,
	}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "coinbase_tag")
}

func TestValidate_RejectsInvalidAddress(t *testing.T) {
	cfg := &Config{MiningServer: MiningServerConfig{
		CoinbaseTag:           "pleb",
		CoinbaseOutputAddress: "not-a-bitcoin-address",
		ShareBatchSize:        1,
		ListeningPort:         1,
	}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "coinbase_output_address")
}

func TestValidate_RejectsZeroShareBatchSize(t *testing.T) {
	cfg := &Config{MiningServer: MiningServerConfig{
		CoinbaseOutputAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		ShareBatchSize:        0,
		ListeningPort:         1,
	}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "share_batch_size")
}

func TestDestinationScript_MatchesAddressToScript(t *testing.T) {
	cfg := &Config{MiningServer: MiningServerConfig{
		CoinbaseOutputAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
	}}
	script, err := cfg.DestinationScript()
	require.NoError(t, err)
	assert.NotEmpty(t, script)
}

func TestLoad_EnvOverridesWinOverTOML(t *testing.T) {
	path := writeTempConfig(t, validConfigTOML)
	os.Setenv("PLEBLOTTERY_LISTEN_PORT", "9999")
	defer os.Unsetenv("PLEBLOTTERY_LISTEN_PORT")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(9999), cfg.MiningServer.ListeningPort)
}

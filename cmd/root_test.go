// file: cmd/root_test.go
// version: 1.1.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahelmfi/sfd-gateway/internal/config"
	"github.com/sahelmfi/sfd-gateway/internal/token"
)

func TestCommandRegistration(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "call", "token", "audit"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestTokenSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range tokenCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["inspect"])
	assert.True(t, names["issue"])
}

func TestServeFlagDefaults(t *testing.T) {
	assert.Equal(t, "8090", serveCmd.Flag("port").DefValue)
	assert.Equal(t, "localhost", serveCmd.Flag("host").DefValue)
}

func TestBuildIssuerPrefersEndpoint(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("token_endpoint", "http://localhost:9999/token")
	viper.Set("signing_secret", "secret")
	config.InitConfig()

	issuer, err := buildIssuer()
	require.NoError(t, err)
	_, ok := issuer.(*token.HTTPIssuer)
	assert.True(t, ok, "expected HTTP issuer when an endpoint is configured")
}

func TestBuildIssuerLocalFallback(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("signing_secret", "secret")
	viper.Set("token_ttl", time.Hour)
	config.InitConfig()

	issuer, err := buildIssuer()
	require.NoError(t, err)
	_, ok := issuer.(localIssuer)
	assert.True(t, ok, "expected local issuer from signing secret")
}

func TestBuildIssuerUnconfigured(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.InitConfig()

	_, err := buildIssuer()
	assert.Error(t, err)
}

func TestBuildGatewayRequiresBaseURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("signing_secret", "secret")
	config.InitConfig()

	_, err := buildGateway(nil)
	assert.Error(t, err)
}

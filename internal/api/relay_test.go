package api

import (
	"net/http"
	"testing"

	"github.com/sparkcart/order-relay/internal/config"
	"github.com/sparkcart/order-relay/internal/relay"
	"github.com/sparkcart/order-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewRelayApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	rs := &relay.RelayServer{}
	cfg := &config.Config{
		ServerAddr:     "localhost:4000",
		AllowedOrigins: []string{"http://localhost:3000"},
		EmitToken:      "s3cret",
	}

	app := NewRelayApp(mux, logger, rs, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected mux to be initialized")
	assert.Equal(t, app.log, logger, "expected logger to be set")
	assert.Equal(t, app.rs, rs, "expected relay server to be set")
	assert.Equal(t, app.emitToken, cfg.EmitToken, "expected emit token to be set")
	assert.Equal(t, app.allowedOrigins, cfg.AllowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, app.mux.Addr, cfg.ServerAddr, "expected server address to match config")
}

package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	// SigningKey enables join-token verification when non-empty.
	SigningKey []byte
	// EmitToken guards the /emit endpoint when non-empty.
	EmitToken string
	// LogFile enables rotating file logs when non-empty.
	LogFile string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, base64Secret, emitToken, logFile string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	if len(allowedOrigins) == 0 {
		// permissive default for development
		allowedOrigins = []string{"*"}
	}

	var signingKey []byte
	if base64Secret != "" {
		var err error
		signingKey, err = decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
	}

	return &Config{
		ServerAddr:     serverAddr,
		AllowedOrigins: allowedOrigins,
		SigningKey:     signingKey,
		EmitToken:      emitToken,
		LogFile:        logFile,
	}, nil
}

package gateway

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// LoadToken resolves the gateway bearer token: the LOOKOUT_GATEWAY_TOKEN
// environment variable wins, then the gateway.auth.token field of
// ~/.lookout/lookout.json. Returns "" when neither is set; the gateway
// accepts anonymous connections for read-only roles.
func LoadToken() string {
	if tok := os.Getenv("LOOKOUT_GATEWAY_TOKEN"); tok != "" {
		return tok
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return tokenFromConfig(filepath.Join(home, ".lookout", "lookout.json"))
}

type configFile struct {
	Gateway struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	} `json:"gateway"`
}

func tokenFromConfig(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return cfg.Gateway.Auth.Token
}

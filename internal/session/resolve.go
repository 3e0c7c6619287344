package session

import (
	"os"

	"github.com/adaspace/chatcore/internal/config"
)

const DefaultProfileName = "default"

// EnvProfile overrides the profile when set.
const EnvProfile = "CHATCORE_PROFILE"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (-profile flag)
// 2. CHATCORE_PROFILE environment variable
// 3. config.toml default_profile
// 4. "default"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvProfile); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}

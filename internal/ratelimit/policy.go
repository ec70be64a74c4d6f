package ratelimit

import (
	"github.com/redis/go-redis/v9"

	"github.com/accountd/accountd/internal/config"
)

// Policies holds the configured limiter class for each guarded route group.
type Policies struct {
	General       Class
	Auth          Class
	Login         Class
	PasswordReset Class
	API           Class
	Upload        Class
}

// PoliciesFromConfig builds the policy table from configuration. The login
// and auth classes skip successful requests: only failed attempts consume
// budget there.
func PoliciesFromConfig(cfg *config.RateLimitConfig) Policies {
	return Policies{
		General: Class{
			Name:   ClassGeneral,
			Window: cfg.General.Window,
			Max:    cfg.General.Max,
		},
		Auth: Class{
			Name:           ClassAuth,
			Window:         cfg.Auth.Window,
			Max:            cfg.Auth.Max,
			SkipSuccessful: true,
		},
		Login: Class{
			Name:           ClassLogin,
			Window:         cfg.Login.Window,
			Max:            cfg.Login.Max,
			SkipSuccessful: true,
		},
		PasswordReset: Class{
			Name:   ClassPasswordReset,
			Window: cfg.PasswordReset.Window,
			Max:    cfg.PasswordReset.Max,
		},
		API: Class{
			Name:   ClassAPI,
			Window: cfg.API.Window,
			Max:    cfg.API.Max,
		},
		Upload: Class{
			Name:   ClassUpload,
			Window: cfg.Upload.Window,
			Max:    cfg.Upload.Max,
		},
	}
}

// NewStoreFromConfig creates the configured counter store backend.
func NewStoreFromConfig(cfg *config.RateLimitConfig) Store {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(client)
	}
	return NewMemoryStore()
}

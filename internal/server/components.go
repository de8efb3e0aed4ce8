package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/auth"
	"github.com/authgate/apiserver/internal/db"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/internal/services"
	"github.com/authgate/apiserver/internal/store"
)

// Components are the wired services shared by the HTTP server and the CLI.
type Components struct {
	Accounts   services.AccountRepository
	Auth       *services.AuthService
	Users      *services.UserService
	Tokens     *auth.TokenService
	Challenges *auth.ChallengeGenerator
	Sealer     *auth.ChallengeSealer
	Queue      *mq.MQ

	closers []func() error
}

// Open connects the configured account store and event backend and builds
// the auth services on top of them.
func Open(ctx context.Context, cfg config.Config, log logging.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop{}
	}

	c := &Components{}
	accounts, ledger, err := c.openStore(ctx, cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Accounts = accounts

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	var events services.EventPublisher
	if queue != nil {
		c.Queue = queue
		c.closers = append(c.closers, queue.Close)
		publisher := services.NewMQEventPublisher(queue, cfg.MQ.EventsChannel, log.With("component", "events"))
		c.closers = append(c.closers, publisher.Close)
		events = publisher
	}

	if err := c.build(cfg, ledger, events, log); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) openStore(ctx context.Context, cfg config.Config) (services.AccountRepository, auth.ChallengeLedger, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		client, err := db.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, client.Close)
		return store.NewRedisAccountRepository(client, cfg.Redis.Prefix),
			store.NewRedisChallengeLedger(client, cfg.Redis.Prefix), nil
	case config.StoreDriverPostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, conn.Close)
		return store.NewAccountRepository(conn), store.NewChallengeLedger(conn), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (c *Components) build(cfg config.Config, ledger auth.ChallengeLedger, events services.EventPublisher, log logging.Logger) error {
	secret := []byte(cfg.Auth.JWTSecret)

	tokens, err := auth.NewTokenService(auth.DeriveKey(secret, auth.KeySessionToken), cfg.Auth.TokenTTL, nil)
	if err != nil {
		return err
	}
	sealer, err := auth.NewChallengeSealer(secret, cfg.Auth.ChallengeTTL, nil)
	if err != nil {
		return err
	}
	sealer.WithLedger(ledger)
	challenges, err := auth.NewChallengeGenerator()
	if err != nil {
		return err
	}

	authService, err := services.NewAuthService(services.AuthDeps{
		Accounts: c.Accounts,
		Hasher:   auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:   tokens,
		Lockout:  auth.NewLockoutPolicy(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration),
		Events:   events,
		Log:      log.With("component", "auth"),
	})
	if err != nil {
		return err
	}

	c.Tokens = tokens
	c.Sealer = sealer
	c.Challenges = challenges
	c.Auth = authService
	c.Users = services.NewUserService(c.Accounts)
	return nil
}

// SeedAdmin creates the configured administrator if it does not exist yet.
func (c *Components) SeedAdmin(ctx context.Context, cfg config.AdminConfig) (bool, error) {
	return c.Auth.EnsureAdmin(ctx, services.AdminSeed{
		Email:    cfg.Email,
		Username: cfg.Username,
		Password: cfg.Password,
	})
}

// Close releases every connection opened by Open, last opened first.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

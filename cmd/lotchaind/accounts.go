package main

import (
	"fmt"

	"github.com/agrisentinel/lotchain/internal/session"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// accountConfig is one entry of the "accounts" config list. PasswordHash is
// a bcrypt hash; Password is accepted for local setups and hashed on load.
type accountConfig struct {
	UID          string `mapstructure:"uid"`
	Email        string `mapstructure:"email"`
	Name         string `mapstructure:"name"`
	Role         string `mapstructure:"role"`
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

func loadDirectory(logger *zap.Logger) (*session.Directory, error) {
	var cfgs []accountConfig
	if err := viper.UnmarshalKey("accounts", &cfgs); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}

	if len(cfgs) == 0 {
		logger.Warn("no accounts configured, loading demo accounts",
			zap.String("password", session.DemoPassword))
		demo, err := session.DemoAccounts()
		if err != nil {
			return nil, err
		}
		return session.NewDirectory(demo...), nil
	}

	dir := session.NewDirectory()
	for _, c := range cfgs {
		role, err := session.ParseRole(c.Role)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", c.Email, err)
		}
		if c.UID == "" || c.Email == "" {
			return nil, fmt.Errorf("account %q: uid and email are required", c.Email)
		}

		var acct session.Account
		switch {
		case c.PasswordHash != "":
			acct = session.Account{
				Actor:        session.Actor{UID: c.UID, Name: c.Name, Email: c.Email, Role: role},
				PasswordHash: c.PasswordHash,
			}
		case c.Password != "":
			if acct, err = session.NewAccount(c.UID, c.Email, c.Name, role, c.Password); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("account %s: password or password_hash is required", c.Email)
		}
		dir.Add(acct)
	}
	logger.Info("account directory loaded", zap.Int("accounts", dir.Len()))
	return dir, nil
}

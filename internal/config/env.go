// Package config loads startup secrets from the environment and keeps the
// runtime-editable settings in two flat JSON files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvOwnerID  = "BOT_OWNER_ID"
)

// ErrMissingEnv is returned when a required variable is unset or blank.
var ErrMissingEnv = errors.New("config: required environment variable not set")

// Env holds the secrets the process cannot start without.
type Env struct {
	BotToken string
	OwnerID  int64
}

// LoadEnv reads the required variables through lookup, normally os.LookupEnv.
func LoadEnv(lookup func(string) (string, bool)) (Env, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	token, ok := lookup(EnvBotToken)
	if !ok || strings.TrimSpace(token) == "" {
		return Env{}, fmt.Errorf("%w: %s", ErrMissingEnv, EnvBotToken)
	}
	raw, ok := lookup(EnvOwnerID)
	if !ok || strings.TrimSpace(raw) == "" {
		return Env{}, fmt.Errorf("%w: %s", ErrMissingEnv, EnvOwnerID)
	}
	owner, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return Env{}, fmt.Errorf("config: %s %q is not a valid integer", EnvOwnerID, raw)
	}
	return Env{BotToken: strings.TrimSpace(token), OwnerID: owner}, nil
}

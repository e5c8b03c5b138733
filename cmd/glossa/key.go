package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"glossa/internal/appdirs"
	"glossa/internal/config"
	"glossa/internal/errinfo"
	"glossa/internal/logging"
	"glossa/internal/secrets"
)

// KeyCmd manages API keys stored encrypted in the data directory. A stored
// key is used when GLOSSA_API_KEY is unset.
type KeyCmd struct {
	Set    KeySetCmd    `cmd:"" help:"Store the API key for the configured endpoint, read from stdin"`
	Clear  KeyClearCmd  `cmd:"" help:"Remove the stored API key for the configured endpoint"`
	Status KeyStatusCmd `cmd:"" help:"Show where the API key comes from"`
}

func endpointHost(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func keyringFor(cfg config.Config) *secrets.Keyring {
	return secrets.InDir(appdirs.SecretsDir(cfg.DataDir))
}

// resolveAPIKey fills cfg.API.Key from the keyring when the environment
// does not set it.
func resolveAPIKey(cfg *config.Config, ring *secrets.Keyring) error {
	if strings.TrimSpace(cfg.API.Key) != "" {
		return nil
	}
	key, err := ring.Get(endpointHost(cfg.API.BaseURL))
	if err != nil {
		return errinfo.FileReadFailed(errinfo.PhaseConfig, "read stored api key: "+err.Error())
	}
	cfg.API.Key = key
	return nil
}

func readKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

type KeySetCmd struct{}

func (KeySetCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "key")
	if err != nil {
		return err
	}
	defer a.Close()
	key, err := readKey(os.Stdin)
	if err != nil {
		return errinfo.FileReadFailed(errinfo.PhaseConfig, err.Error())
	}
	if key == "" {
		return errinfo.ConfigInvalid("no api key on stdin")
	}
	host := endpointHost(a.cfg.API.BaseURL)
	if err := keyringFor(a.cfg).Set(host, key); err != nil {
		return errinfo.FileWriteFailed(errinfo.PhaseConfig, err.Error())
	}
	a.logger.Info("key.stored", "host", host, "api_key", logging.RedactValue(key))
	fmt.Fprintf(a.out, "stored api key for %s\n", host)
	return nil
}

type KeyClearCmd struct{}

func (KeyClearCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "key")
	if err != nil {
		return err
	}
	defer a.Close()
	host := endpointHost(a.cfg.API.BaseURL)
	removed, err := keyringFor(a.cfg).Clear(host)
	if err != nil {
		return errinfo.FileWriteFailed(errinfo.PhaseConfig, err.Error())
	}
	if removed {
		fmt.Fprintf(a.out, "removed api key for %s\n", host)
	} else {
		fmt.Fprintf(a.out, "no stored api key for %s\n", host)
	}
	return nil
}

type KeyStatusCmd struct{}

func (KeyStatusCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "key")
	if err != nil {
		return err
	}
	defer a.Close()
	host := endpointHost(a.cfg.API.BaseURL)
	switch {
	case a.cfg.API.Key != "":
		fmt.Fprintf(a.out, "%s: GLOSSA_API_KEY %s\n", host, logging.RedactValue(a.cfg.API.Key))
	default:
		key, err := keyringFor(a.cfg).Get(host)
		if err != nil {
			return errinfo.FileReadFailed(errinfo.PhaseConfig, err.Error())
		}
		if key == "" {
			fmt.Fprintf(a.out, "%s: no api key configured\n", host)
		} else {
			fmt.Fprintf(a.out, "%s: stored key %s\n", host, logging.RedactValue(key))
		}
	}
	return nil
}

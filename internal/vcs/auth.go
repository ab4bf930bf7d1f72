package vcs

import (
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/relicta-tech/sitedeploy/internal/config"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// tokenUsername is sent with token auth when no username is configured.
// Hosting services ignore it but require it to be non-empty.
const tokenUsername = "x-access-token"

// AuthFromConfig builds a transport auth method. A nil method with a nil
// error leaves go-git to its defaults, such as the SSH agent.
func AuthFromConfig(cfg config.GitAuthConfig) (transport.AuthMethod, error) {
	const op = "vcs.AuthFromConfig"

	switch cfg.Type {
	case "", "auto":
		if cfg.Token != "" {
			return tokenAuth(cfg), nil
		}
		if cfg.SSHKeyPath != "" {
			if _, err := os.Stat(cfg.SSHKeyPath); err == nil {
				return sshAuth(cfg)
			}
		}
		return nil, nil
	case "token":
		if cfg.Token == "" {
			return nil, sderrors.Config(op, "token auth requires a token")
		}
		return tokenAuth(cfg), nil
	case "basic":
		return &http.BasicAuth{Username: cfg.Username, Password: cfg.Password}, nil
	case "ssh":
		return sshAuth(cfg)
	default:
		return nil, sderrors.Config(op, "unknown auth type "+cfg.Type)
	}
}

func tokenAuth(cfg config.GitAuthConfig) transport.AuthMethod {
	user := cfg.Username
	if user == "" {
		user = tokenUsername
	}
	return &http.BasicAuth{Username: user, Password: cfg.Token}
}

func sshAuth(cfg config.GitAuthConfig) (transport.AuthMethod, error) {
	keys, err := ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, cfg.SSHKeyPassword)
	if err != nil {
		return nil, sderrors.ConfigWrap(sderrors.RedactError(err), "vcs.AuthFromConfig", "failed to load SSH key")
	}
	return keys, nil
}

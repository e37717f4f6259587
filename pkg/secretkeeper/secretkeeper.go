// Package secretkeeper implements the authorization kernel's secret key
// lifecycle (C7): load the persisted token-encryption key, or create and
// persist a fresh one with restrictive file permissions.
package secretkeeper

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"

	"github.com/stacklok/localghost/pkg/kernelerrors"
	"github.com/stacklok/localghost/pkg/logger"
	"github.com/stacklok/localghost/pkg/token"
)

// secretFileMode restricts the key file to owner read/write only.
const secretFileMode = 0o600

// LoadOrCreate returns the secret key at path, creating it if absent.
// A file lock on path+".lock" serializes first-boot creation across
// concurrently starting processes sharing the same data directory, so two
// instances never race to write different keys.
func LoadOrCreate(path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %v", kernelerrors.ErrSecretIOFailure, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("%w: failed to acquire secret lock: %v", kernelerrors.ErrSecretIOFailure, err)
	}
	defer lock.Unlock() //nolint:errcheck

	if existing, err := os.ReadFile(path); err == nil {
		return existing, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: failed to read secret key: %v", kernelerrors.ErrSecretIOFailure, err)
	}

	secret, err := token.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate secret: %v", kernelerrors.ErrSecretIOFailure, err)
	}

	if err := os.WriteFile(path, secret, secretFileMode); err != nil {
		return nil, fmt.Errorf("%w: failed to write secret key: %v", kernelerrors.ErrSecretIOFailure, err)
	}

	if runtime.GOOS == "windows" {
		logger.Warnf("restrictive file mode on %s cannot be fully enforced on windows", path)
	}

	logger.Infof("generated new secret key at %s", path)
	return secret, nil
}

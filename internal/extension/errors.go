package extension

import (
	"errors"
	"fmt"

	"github.com/qwenlm/qwen-ext/internal/settings"
)

var (
	// ErrUntrustedWorkspace is returned when installing from an untrusted folder.
	ErrUntrustedWorkspace = errors.New("the current workspace is not trusted; extensions cannot be installed")
	// ErrAlreadyInstalled is returned by a fresh install of an existing name.
	ErrAlreadyInstalled = errors.New("extension is already installed")
	// ErrNotInstalled is returned when an operation targets a missing extension.
	ErrNotInstalled = errors.New("extension is not installed")
	// ErrInvalidScope is returned for scopes other than user and workspace.
	ErrInvalidScope = settings.ErrInvalidScope
	// ErrSettingsChangedOnAutoUpdate aborts an auto-update whose new version
	// declares a different set of settings.
	ErrSettingsChangedOnAutoUpdate = errors.New("extension settings changed; auto-update requires a manual update")
)

// ConsentDeclinedError reports that the user refused an install or update.
type ConsentDeclinedError struct {
	Name string
}

func (e *ConsentDeclinedError) Error() string {
	return fmt.Sprintf("Installation cancelled for %s.", e.Name)
}

// IsConsentDeclined reports whether err is, or wraps, a ConsentDeclinedError.
func IsConsentDeclined(err error) bool {
	var target *ConsentDeclinedError
	return errors.As(err, &target)
}

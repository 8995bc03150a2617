package plugin

import "errors"

var (
	ErrNotFound        = errors.New("plugin: not found")
	ErrAlreadyLoaded   = errors.New("plugin: already loaded")
	ErrNotLoaded       = errors.New("plugin: not loaded")
	ErrInstallFailed   = errors.New("plugin: install failed")
)

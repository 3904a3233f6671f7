// Package modelrepo discovers the models and ControlNets on local disk.
package modelrepo

import "errors"

var (
	// ErrNoAccess is returned when the model directory cannot be created or read.
	ErrNoAccess = errors.New("modelrepo: no access to model directory")
	// ErrNoSubdirectories is returned when the model directory cannot be listed.
	ErrNoSubdirectories = errors.New("modelrepo: unable to list model subdirectories")
	// ErrNoModelsFound is returned when no subdirectory holds a usable model.
	ErrNoModelsFound = errors.New("modelrepo: no models found")
)

package main

import (
	"errors"

	"github.com/odvcencio/appbridge/pkg/bridge"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
)

const (
	exitFailure   = 1
	exitUsage     = 2
	exitDiscovery = 3
	exitSession   = 4
	exitScript    = 5
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
	// reported means the command already printed the failure.
	reported bool
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func reported(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err, reported: true}
}

func usageError(format string) error {
	return exitError{code: exitUsage, err: errors.New(format)}
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	var remote *bridge.RemoteExecutionError
	if errors.As(err, &remote) {
		return exitScript
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeConfigLoad, apperrors.ErrCodeConfigParse, apperrors.ErrCodeConfigInvalid, apperrors.ErrCodeInvalidInput:
		return exitUsage
	case apperrors.ErrCodeDiscoveryFailed, apperrors.ErrCodeCompositionFailed:
		return exitDiscovery
	}
	return exitFailure
}

func alreadyReported(err error) bool {
	var e exitError
	return errors.As(err, &e) && e.reported
}

package core

// Process exit codes. Signal exits follow the 128+N convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	ExitCodeConfig  = 2
	ExitCodeSIGINT  = 130
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a short label for logs.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "configuration error"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	}
	return "unknown"
}

// ExitCodeFor maps an error returned from a command to an exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if _, ok := AsConfigError(err); ok {
		return ExitCodeConfig
	}
	return ExitCodeError
}

//go:build !linux

package sandbox

import (
	"fmt"
	"runtime"

	"github.com/mini-maxit/judge/pkg/errors"
)

func NewProcessSandbox(Options) (Sandbox, error) {
	return nil, fmt.Errorf("%w: process sandbox is not supported on %s", errors.ErrUnknownSandboxDriver, runtime.GOOS)
}

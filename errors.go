// errors.go - error kinds returned across the API boundary

package arcsim

import "errors"

// Sentinel errors for conditions spec.md S7 requires to be distinguishable
// by the caller via errors.Is, rather than by matching error strings.
var (
	ErrDuplicateSubscriber = errors.New("arcsim: subscriber already registered")
	ErrNotRegistered       = errors.New("arcsim: subscriber not registered")
	ErrMemoryFault         = errors.New("arcsim: memory fault")
	ErrIllegalInstruction  = errors.New("arcsim: illegal instruction")
	ErrPrivilegeViolation  = errors.New("arcsim: privilege violation")
	ErrCompilerInvoke      = errors.New("arcsim: toolchain invocation failed")
	ErrLoaderFailed        = errors.New("arcsim: native module load failed")
	ErrOutOfCodeMemory     = errors.New("arcsim: translation arena out of code memory")
	ErrInvalidOption       = errors.New("arcsim: invalid option")
	ErrUnsupportedISA      = errors.New("arcsim: unsupported isa")
)

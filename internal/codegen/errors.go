package codegen

import "errors"

var (
	// ErrCompiled reports an operation on a generator whose module has
	// already been handed to the code cache.
	ErrCompiled = errors.New("module has already been compiled")
	// ErrNameCollision reports adding a definition whose name already exists
	// in the module.
	ErrNameCollision = errors.New("name already exists in the module")
	// ErrUnknownIntrinsic reports an intrinsic name outside the supported set.
	ErrUnknownIntrinsic = errors.New("unknown intrinsic")
	// ErrUnknownFunction reports a call to a module function that is absent
	// or has no body.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrVerifyFailed reports IR verification rejecting an emitted function.
	// The offending function is removed from the module before this surfaces.
	ErrVerifyFailed = errors.New("function verification failed")
	// ErrTooManyVariables reports a free-variable count exceeding 32-bit
	// addressing.
	ErrTooManyVariables = errors.New("too many variables")
	// ErrOrderOverflow reports a Taylor derivative array that does not fit in
	// 32-bit indexing.
	ErrOrderOverflow = errors.New("derivative order overflow")
	// ErrLowerUnsupported reports an operand shape the Taylor lowering cannot
	// emit.
	ErrLowerUnsupported = errors.New("unsupported Taylor operand")
)

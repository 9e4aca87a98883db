package builtin

import (
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/vestlabs/vesting-actors/actors/runtime"
)

///// Code shared by multiple built-in actors. /////

// Propagates a failed send by aborting the current method with the same exit code.
func RequireSuccess(rt runtime.Runtime, e exitcode.ExitCode, msg string, args ...interface{}) {
	if !e.IsSuccess() {
		rt.Abortf(e, msg, args...)
	}
}

// Aborts with a formatted message if err is non-nil.
// The provided exit code is used unless the error carries one already.
func RequireNoErr(rt runtime.Runtime, err error, defaultExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	if err != nil {
		code := exitcode.Unwrap(err, defaultExitCode)
		args = append(args, err)
		rt.Abortf(code, msg+": %s", args...)
	}
}

// Aborts with a message if the predicate is false.
func RequireParam(rt runtime.Runtime, predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.Abortf(exitcode.ErrIllegalArgument, msg, args...)
	}
}

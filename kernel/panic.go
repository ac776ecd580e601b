package kernel

import "mikros/kernel/kfmt"

var (
	// haltFn is mocked by tests. The hosted build has no CPU to halt, so
	// the default hands the failure to the Go runtime.
	haltFn = func() {
		panic("kernel: halted")
	}

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic reports an unrecoverable kernel error and halts. It is the last stop
// for broken data-structure invariants; none of the callers expect it to
// return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	haltFn()
}

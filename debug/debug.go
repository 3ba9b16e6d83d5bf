// Package debug provides the stack-walk formatting used on the fatal
// kernel panic path and by the dbgctl syscall.
package debug

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/AndrewD/prex/klog"
)

// Callerdump formats the call stack starting at the given frame
// depth, one function per line with its source position.
func Callerdump(start int) string {
	var b strings.Builder
	for i := start; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := "?"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		fmt.Fprintf(&b, "  %s (%s:%d)\n", name, file, line)
	}
	return b.String()
}

// Panic logs msg and the current call stack to the kernel log ring and
// then panics. Corrupt kernel-heap magic and impossible scheduler state
// reach here.
func Panic(msg string) {
	klog.Printf("panic: %s\n%s", msg, Callerdump(2))
	panic(msg)
}

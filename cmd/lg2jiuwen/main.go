// lg2jiuwen migrates LangGraph agents to openJiuwen workflow programs.
//
// Usage:
//
//	lg2jiuwen migrate <source> [-o dir] [-n name] [--layout auto|single|multi] [--ai]
//	lg2jiuwen watch <source> [-o dir]
//	lg2jiuwen serve
//	lg2jiuwen runs [--limit n] [--json]
//	lg2jiuwen show <run-id|latest> <path>
//	lg2jiuwen ast <file.py>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Command toolauth inspects and exercises the authentication configuration
// of a tool server: it resolves the active mode, resolves identities, runs
// authorization decisions against a demo tool table and checks dependency
// health.
package main

import "os"

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

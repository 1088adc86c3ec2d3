// The main package for the policycrawl executable.
package main

import (
	"context"
	"os"

	"github.com/JakeFAU/policy-search-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute(context.Background(), os.Args[1:]))
}

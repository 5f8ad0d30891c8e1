// The main package for the listing-harvester executable.
package main

import (
	"github.com/kauaDaviAmaro/listing-harvester/cmd"
)

func main() {
	cmd.Execute()
}

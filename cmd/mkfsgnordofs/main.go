// Command mkfsgnordofs formats a GnordoFS image file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holzplatten/gnordofs"
)

func main() {
	size := flag.Int64("size", gnordofs.DefaultImageSize, "image size in bytes")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-size bytes] <image-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := gnordofs.MkFS(flag.Arg(0), *size); err != nil {
		fmt.Fprintf(os.Stderr, "mkfsgnordofs: %v\n", err)
		os.Exit(1)
	}
}

// Command classvm loads a single class and runs its main([Ljava/lang/String;)V.
package main

import (
	"fmt"
	"os"

	"github.com/tinbrook/classvm/pkg/heap"
	"github.com/tinbrook/classvm/pkg/loader"
	"github.com/tinbrook/classvm/pkg/vm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: classvm <class> [<arg>...]\n")
		os.Exit(1)
	}
	className := os.Args[1]

	loadDir := os.Getenv("CLASSVM_LOAD_DIR")
	if loadDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		loadDir = wd
	}

	l := loader.New(loadDir)
	v := vm.New(l, heap.New())

	if err := v.Start(className); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

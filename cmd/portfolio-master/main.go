package main

import (
	"os"

	"github.com/iota-uz/portfolio-master/pkg/httpapi"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		_ = httpapi.WriteError(os.Stderr, err)
		os.Exit(1)
	}
}

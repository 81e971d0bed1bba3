package main

import (
	"os"
	_ "time/tzdata"

	"github.com/tanpawarit/Chative-Character-Chat/cmd"
	_ "github.com/tanpawarit/Chative-Character-Chat/pkg/logger/autoload"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

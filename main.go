package main

import (
	"github.com/ubaish01/commune--client/cmd"
	"github.com/ubaish01/commune--client/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}

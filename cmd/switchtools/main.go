package main

import (
	"github.com/falk/switch-tools-go/internal/cmd"
)

func main() {
	cmd.Execute()
}

// ./main.go
package main

import (
	"github.com/kestrelhq/wayfarer/cmd"
)

func main() {
	cmd.Execute()
}

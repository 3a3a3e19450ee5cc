package main

import "github.com/qrave1/parley/cmd"

func main() {
	cmd.Execute()
}

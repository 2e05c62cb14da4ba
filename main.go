package main

import "github.com/crashbisect/crashbisect/cmd"

func main() {
	cmd.Execute()
}

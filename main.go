package main

import "github.com/cybertron10/xssed/cmd"

func main() {
	cmd.Execute()
}

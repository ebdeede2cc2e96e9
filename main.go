package main

import "github.com/camden-git/albumconverter/cmd"

func main() {
	cmd.Execute()
}

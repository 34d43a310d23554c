package main

import "tube-keeper/cmd"

func main() {
	cmd.Execute()
}

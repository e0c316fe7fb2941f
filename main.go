package main

import "github.com/qget/qget/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/andresmejia3/neptune/cmd"

func main() {
	cmd.Execute()
}

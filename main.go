package main

import "github.com/civicdata/kawasaki-etl/cmd"

func main() {
	cmd.Execute()
}

package main

import (
	"github.com/bucketcloner/bucketcloner/cmd"
)

func main() {
	cmd.Execute()
}

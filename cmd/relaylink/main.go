package main

import (
	"log"

	"github.com/tebeka/atexit"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

package main

import (
	"log"

	"github.com/reposync/reposync/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("reposync: %v", err)
	}
}

package main

import (
	"log"

	"metavault/cmd/mvctl/commands"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}

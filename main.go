/*
Copyright © 2025 tieubaoca
*/
package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/tieubaoca/jwt-assistant-be/cmd"
)

func main() {
	cmd.Execute()
}

func init() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}
}

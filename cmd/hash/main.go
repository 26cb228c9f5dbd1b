// Package main is a utility for generating bcrypt hashes of account passwords.
// The server stores only bcrypt hashes in users.password_hash, so this tool is
// used when seeding accounts directly in the database without going through
// POST /api/v1/auth/register.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/content-scheduler/content-scheduler/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <password>", os.Args[0])
	}

	hash, err := auth.HashPassword(os.Args[1], bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	fmt.Println(hash)
}

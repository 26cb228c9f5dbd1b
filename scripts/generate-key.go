// Package main is a development utility that prints fresh secrets for a local
// environment: an ENCRYPTION_KEY for sealing social tokens and a CS_JWT_SECRET
// for session tokens. Do not reuse development keys in production.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/content-scheduler/content-scheduler/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	jwtSecret := make([]byte, 48)
	if _, err := rand.Read(jwtSecret); err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Printf("ENCRYPTION_KEY=%s\n", hex.EncodeToString(key))
	fmt.Printf("CS_JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(jwtSecret))
	fmt.Println("==========================================================")
}

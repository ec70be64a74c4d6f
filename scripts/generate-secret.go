// Package main is a development utility for generating a JWT signing secret.
// The server refuses to start in production without ACCT_JWT_SECRET set to at
// least 32 characters; this prints a 48-byte random secret ready to paste into
// an environment file. Do not reuse secrets between deployments — rotating the
// secret invalidates all outstanding access and refresh tokens.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 48)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("==========================================================")
	fmt.Println("JWT Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nACCT_JWT_SECRET=%s\n", secret)
	fmt.Println("\n==========================================================")
}

//go:build ignore

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func main() {
	// Generate a shared secret for a sources.yaml entry
	b := make([]byte, 32)
	rand.Read(b)
	secret := hex.EncodeToString(b)

	fmt.Println("Secret:", secret)
	fmt.Println()
	fmt.Println("sources.yaml entry:")
	fmt.Printf("  - name: my-source\n    secret: %s\n", secret)
}

// Command genpass creates a random broker password and prints the matching
// entry for the broker.users section of the config.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kabili207/mesh-relay-node/pkg/auth"
)

func main() {
	username := flag.String("user", "gateway", "Broker username to print in the config entry")
	length := flag.Int("length", 16, "Length of the password in bytes (will be hex encoded, so output is 2x this)")
	password := flag.String("password", "", "Use this password instead of generating one")
	flag.Parse()

	pass := *password
	if pass == "" {
		var err error
		pass, err = auth.RandomHex(*length)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating password: %v\n", err)
			os.Exit(1)
		}
	}

	hash, salt, err := auth.GenerateHashAndSalt(pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating salt: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Password: %s\n\n", pass)
	fmt.Println("broker:")
	fmt.Println("  users:")
	fmt.Printf("    - username: %s\n", *username)
	fmt.Printf("      password_hash: %s\n", hash)
	fmt.Printf("      salt: %s\n", salt)
}

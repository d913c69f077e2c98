package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// GenToken prints a random bearer token for the gateway's server.yaml.
func GenToken(stdout io.Writer) error {
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

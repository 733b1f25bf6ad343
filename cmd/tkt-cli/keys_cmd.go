package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"tickechain/cmd/internal/passphrase"
	"tickechain/crypto"
)

const (
	keystorePassEnv     = "TKT_KEYSTORE_PASS"
	defaultKeystorePath = "tkt.keystore"
)

var (
	keystorePassphrase = func() (string, error) {
		return passphrase.NewSource(keystorePassEnv, "keystore").Get()
	}
	newKeystorePassphrase = func() (string, error) {
		return passphrase.NewSource(keystorePassEnv, "keystore").WithConfirmation().Get()
	}
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr, "Usage: tkt-cli keygen [--out PATH] [--force] [--light-kdf]")
	var out string
	var force, light bool
	fs.StringVar(&out, "out", defaultKeystorePath, "keystore file to write")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	fs.BoolVar(&light, "light-kdf", false, "use the cheaper scrypt cost (for gate devices)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(out); err == nil && !force {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", out))
	}

	pass, err := newKeystorePassphrase()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	params := crypto.StandardScrypt
	if light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWithParams(out, key, pass, params); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "Keystore: %s\nAddress:  %s\nHex:      %s\n", out, addr.String(), addr.Hex())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr, "Usage: tkt-cli address [--keystore PATH]")
	var path string
	fs.StringVar(&path, "keystore", defaultKeystorePath, "keystore file to read")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "%s\n%s\n", addr.String(), addr.Hex())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := keystorePassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

package wallet

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrSigning is returned when platform signing credentials are absent or
// cannot be parsed.
var ErrSigning = errors.New("signing credentials unavailable")

// AppleCredentials holds the pass-signing certificate chain.
type AppleCredentials struct {
	SignerCert *x509.Certificate
	SignerKey  crypto.PrivateKey
	WWDRCert   *x509.Certificate
}

// FileCredentials loads the Apple signing material from PEM files on every
// call. Rebuilding per call keeps rotated certificates in play without a
// restart.
func FileCredentials(certPath, keyPath, wwdrPath string) func() (*AppleCredentials, error) {
	return func() (*AppleCredentials, error) {
		if certPath == "" || keyPath == "" || wwdrPath == "" {
			return nil, fmt.Errorf("%w: apple certificate paths not configured", ErrSigning)
		}

		signerCert, err := readCertPEM(certPath)
		if err != nil {
			return nil, fmt.Errorf("%w: signer certificate: %v", ErrSigning, err)
		}
		signerKey, err := readKeyPEM(keyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: signer key: %v", ErrSigning, err)
		}
		wwdrCert, err := readCertPEM(wwdrPath)
		if err != nil {
			return nil, fmt.Errorf("%w: WWDR certificate: %v", ErrSigning, err)
		}

		return &AppleCredentials{SignerCert: signerCert, SignerKey: signerKey, WWDRCert: wwdrCert}, nil
	}
}

func readCertPEM(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

func readKeyPEM(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported private key format")
}

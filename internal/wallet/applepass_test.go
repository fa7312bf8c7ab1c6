package wallet

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"testing"
	"time"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"

	"github.com/stretchr/testify/require"
)

func testCredentials(t *testing.T) func() (*AppleCredentials, error) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Pass Signing Test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	creds := &AppleCredentials{SignerCert: cert, SignerKey: key, WWDRCert: cert}
	return func() (*AppleCredentials, error) { return creds, nil }
}

func testBuilder(t *testing.T) (*ApplePassBuilder, *fakeCards, *fakePasses) {
	t.Helper()

	cards := &fakeCards{
		orgs: map[string]models.Organization{
			"org-1": {ID: "org-1", Name: "Bean Scene", MaxPoints: 10, ForegroundColor: "rgb(255,255,255)", BackgroundColor: "rgb(60,65,80)"},
		},
		cards: map[string]models.Card{
			"card-1": {ID: "card-1", OrgID: "org-1", UserID: 7, Points: 3, MaxPoints: 10},
		},
	}
	passes := newFakePasses()

	builder := NewApplePassBuilder(PassConfig{
		PassTypeID:    "pass.com.example.punchcard",
		TeamID:        "TEAM123456",
		WebServiceURL: "https://punchcard.example.com/v1",
		CardBaseURL:   "https://punchcard.example.com/cards",
	}, testCredentials(t), cards, passes, nil)

	return builder, cards, passes
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = content
	}
	return files
}

func TestBuildProducesSignedArchive(t *testing.T) {
	builder, _, _ := testBuilder(t)

	data, pass, err := builder.Build(context.Background(), "card-1")
	require.NoError(t, err)
	require.NotEmpty(t, pass.SerialNumber)
	require.NotEmpty(t, pass.AuthToken)

	files := readArchive(t, data)
	for _, name := range []string{"pass.json", "manifest.json", "signature", "icon.png", "icon@2x.png", "logo.png"} {
		require.Contains(t, files, name)
		require.NotEmpty(t, files[name])
	}

	var p map[string]any
	require.NoError(t, json.Unmarshal(files["pass.json"], &p))
	require.Equal(t, float64(1), p["formatVersion"])
	require.Equal(t, pass.SerialNumber, p["serialNumber"])
	require.Equal(t, pass.AuthToken, p["authenticationToken"])
	require.Equal(t, "Bean Scene", p["organizationName"])

	storeCard := p["storeCard"].(map[string]any)
	primary := storeCard["primaryFields"].([]any)[0].(map[string]any)
	require.Equal(t, "3/10", primary["value"])

	var manifest map[string]string
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	sum := sha1.Sum(files["pass.json"])
	require.Equal(t, hex.EncodeToString(sum[:]), manifest["pass.json"])
}

func TestBuildReusesSerialAndToken(t *testing.T) {
	builder, cards, _ := testBuilder(t)
	ctx := context.Background()

	_, first, err := builder.Build(ctx, "card-1")
	require.NoError(t, err)

	// Change the balance and regenerate several times.
	card := cards.cards["card-1"]
	card.Points = 4
	cards.cards["card-1"] = card

	for i := 0; i < 3; i++ {
		data, pass, err := builder.Build(ctx, "card-1")
		require.NoError(t, err)
		require.Equal(t, first.SerialNumber, pass.SerialNumber)
		require.Equal(t, first.AuthToken, pass.AuthToken)

		files := readArchive(t, data)
		var p map[string]any
		require.NoError(t, json.Unmarshal(files["pass.json"], &p))
		balance := p["storeCard"].(map[string]any)["primaryFields"].([]any)[0].(map[string]any)["value"]
		require.Equal(t, "4/10", balance)
	}
}

func TestBuildCardNotFound(t *testing.T) {
	builder, _, _ := testBuilder(t)

	_, _, err := builder.Build(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuildSigningError(t *testing.T) {
	_, cards, passes := testBuilder(t)

	builder := NewApplePassBuilder(PassConfig{
		PassTypeID: "pass.com.example.punchcard",
	}, FileCredentials("", "", ""), cards, passes, nil)

	_, _, err := builder.Build(context.Background(), "card-1")
	require.ErrorIs(t, err, ErrSigning)
}

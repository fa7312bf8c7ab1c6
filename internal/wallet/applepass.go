package wallet

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"

	"github.com/smallstep/pkcs7"
)

// PassConfig is the static Apple Wallet identity of this deployment.
type PassConfig struct {
	PassTypeID    string
	TeamID        string
	WebServiceURL string
	// CardBaseURL is the public URL prefix cards are reachable under; the
	// pass barcode points at CardBaseURL/{cardID}.
	CardBaseURL string
}

// LogoSource resolves organization branding images.
type LogoSource interface {
	Logo(ctx context.Context, orgID string) ([]byte, error)
}

// CardReader is the read-only slice of the card store the wallet
// components need.
type CardReader interface {
	GetCard(ctx context.Context, id string) (models.Card, error)
	GetOrganization(ctx context.Context, id string) (models.Organization, error)
}

// PassRecorder is the slice of the pass store the builder needs.
type PassRecorder interface {
	CreateWalletPass(ctx context.Context, cardID string, userID int) (models.WalletPass, error)
	GetWalletPass(ctx context.Context, serialNumber string) (models.WalletPass, error)
	GetWalletPassByCard(ctx context.Context, cardID string) (models.WalletPass, error)
	TouchWalletPass(ctx context.Context, serialNumber string) error
}

// ApplePassBuilder serializes a card into a signed .pkpass archive.
//
// First generation mints the pass record (serial number + auth token);
// every later call reuses the stored pair and only re-serializes content.
type ApplePassBuilder struct {
	cfg    PassConfig
	creds  func() (*AppleCredentials, error)
	cards  CardReader
	passes PassRecorder
	logos  LogoSource
}

func NewApplePassBuilder(cfg PassConfig, creds func() (*AppleCredentials, error), cards CardReader, passes PassRecorder, logos LogoSource) *ApplePassBuilder {
	return &ApplePassBuilder{cfg: cfg, creds: creds, cards: cards, passes: passes, logos: logos}
}

type passField struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

type passBarcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
}

type passFields struct {
	HeaderFields    []passField `json:"headerFields,omitempty"`
	PrimaryFields   []passField `json:"primaryFields,omitempty"`
	SecondaryFields []passField `json:"secondaryFields,omitempty"`
	BackFields      []passField `json:"backFields,omitempty"`
}

type passJSON struct {
	FormatVersion       int           `json:"formatVersion"`
	PassTypeIdentifier  string        `json:"passTypeIdentifier"`
	SerialNumber        string        `json:"serialNumber"`
	TeamIdentifier      string        `json:"teamIdentifier"`
	OrganizationName    string        `json:"organizationName"`
	Description         string        `json:"description"`
	LogoText            string        `json:"logoText,omitempty"`
	ForegroundColor     string        `json:"foregroundColor,omitempty"`
	BackgroundColor     string        `json:"backgroundColor,omitempty"`
	AuthenticationToken string        `json:"authenticationToken"`
	WebServiceURL       string        `json:"webServiceURL"`
	AppLaunchURL        string        `json:"appLaunchURL,omitempty"`
	Barcodes            []passBarcode `json:"barcodes"`
	StoreCard           *passFields   `json:"storeCard"`
}

// Build produces the signed archive for the card's current state and bumps
// the pass record's last-updated timestamp. All-or-nothing: no partial
// archive is ever returned.
func (b *ApplePassBuilder) Build(ctx context.Context, cardID string) ([]byte, models.WalletPass, error) {
	card, err := b.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, models.WalletPass{}, err
	}
	org, err := b.cards.GetOrganization(ctx, card.OrgID)
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	pass, err := b.passes.GetWalletPassByCard(ctx, cardID)
	if errors.Is(err, store.ErrNotFound) {
		pass, err = b.passes.CreateWalletPass(ctx, cardID, card.UserID)
	}
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	creds, err := b.creds()
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	cardURL := b.cfg.CardBaseURL + "/" + card.ID

	p := passJSON{
		FormatVersion:       1,
		PassTypeIdentifier:  b.cfg.PassTypeID,
		SerialNumber:        pass.SerialNumber,
		TeamIdentifier:      b.cfg.TeamID,
		OrganizationName:    org.Name,
		Description:         org.Name + " loyalty card",
		LogoText:            org.Name,
		ForegroundColor:     org.ForegroundColor,
		BackgroundColor:     org.BackgroundColor,
		AuthenticationToken: pass.AuthToken,
		WebServiceURL:       b.cfg.WebServiceURL,
		AppLaunchURL:        cardURL,
		Barcodes: []passBarcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         cardURL,
			MessageEncoding: "iso-8859-1",
		}},
		StoreCard: &passFields{
			PrimaryFields: []passField{{
				Key:   "balance",
				Label: "STAMPS",
				Value: card.Balance(),
			}},
			BackFields: []passField{{
				Key:   "card",
				Label: "Card",
				Value: cardURL,
			}},
		},
	}

	passData, err := json.Marshal(p)
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	logo := b.logoBytes(ctx, org.ID)
	files := map[string][]byte{
		"pass.json":   passData,
		"icon.png":    logo,
		"icon@2x.png": logo,
		"logo.png":    logo,
	}

	manifest := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data)
		manifest[name] = hex.EncodeToString(sum[:])
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	signature, err := signManifest(manifestData, creds)
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	files["manifest.json"] = manifestData
	files["signature"] = signature

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := zw.Create(name)
		if err != nil {
			return nil, models.WalletPass{}, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, models.WalletPass{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, models.WalletPass{}, err
	}

	if err := b.passes.TouchWalletPass(ctx, pass.SerialNumber); err != nil {
		return nil, models.WalletPass{}, err
	}
	pass, err = b.passes.GetWalletPass(ctx, pass.SerialNumber)
	if err != nil {
		return nil, models.WalletPass{}, err
	}

	return buf.Bytes(), pass, nil
}

func signManifest(manifest []byte, creds *AppleCredentials) ([]byte, error) {
	signed, err := pkcs7.NewSignedData(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if err := signed.AddSigner(creds.SignerCert, creds.SignerKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	signed.AddCertificate(creds.WWDRCert)
	signed.Detach()

	sig, err := signed.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

// logoBytes returns the org logo, or a generated placeholder when the asset
// store is unavailable. A missing logo never fails pass generation.
func (b *ApplePassBuilder) logoBytes(ctx context.Context, orgID string) []byte {
	if b.logos != nil {
		if data, err := b.logos.Logo(ctx, orgID); err == nil && len(data) > 0 {
			return data
		}
	}
	return placeholderPNG()
}

func placeholderPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

package wallet

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"punchcard-go/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultObjectsBaseURL = "https://walletobjects.googleapis.com/walletobjects/v1"
	defaultTokenURL       = "https://oauth2.googleapis.com/token"
	defaultSaveBaseURL    = "https://pay.google.com/gp/v/save/"
	walletScope           = "https://www.googleapis.com/auth/wallet_object.issuer"
)

// GoogleConfig is the service-account identity for the Google Wallet API.
type GoogleConfig struct {
	IssuerID            string
	ServiceAccountEmail string
	PrivateKey          *rsa.PrivateKey
	Origins             []string
	CardBaseURL         string

	// Overridable for tests; zero values select the real endpoints.
	BaseURL     string
	TokenURL    string
	SaveBaseURL string
}

// LoadGoogleKey reads an RSA service-account key in PEM form.
func LoadGoogleKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in %s", ErrSigning, path)
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%w: not an RSA key", ErrSigning)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unsupported key format", ErrSigning)
}

// GoogleSync maintains the remote loyalty object for a card. The wallet
// platform owns storage; this component only pushes the current balance and
// state transitions, and issues save-to-wallet JWTs for provisioning.
type GoogleSync struct {
	cfg    GoogleConfig
	cards  CardReader
	client *http.Client
}

func NewGoogleSync(cfg GoogleConfig, cards CardReader) *GoogleSync {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultObjectsBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.SaveBaseURL == "" {
		cfg.SaveBaseURL = defaultSaveBaseURL
	}
	return &GoogleSync{cfg: cfg, cards: cards, client: &http.Client{Timeout: 15 * time.Second}}
}

// ClassID derives the deterministic loyalty class id for an organization.
func (g *GoogleSync) ClassID(orgID string) string {
	return g.cfg.IssuerID + "." + sanitizeID(orgID)
}

// ObjectID derives the deterministic loyalty object id for a card.
func (g *GoogleSync) ObjectID(cardID string) string {
	return g.cfg.IssuerID + "." + sanitizeID(cardID)
}

// Google Wallet ids allow letters, digits, '.', '_' and '-'.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, id)
}

type loyaltyBalance struct {
	String string `json:"string"`
}

type loyaltyPoints struct {
	Label   string         `json:"label,omitempty"`
	Balance loyaltyBalance `json:"balance"`
}

type loyaltyBarcode struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type loyaltyObject struct {
	ID            string          `json:"id"`
	ClassID       string          `json:"classId,omitempty"`
	State         string          `json:"state,omitempty"`
	LoyaltyPoints *loyaltyPoints  `json:"loyaltyPoints,omitempty"`
	Barcode       *loyaltyBarcode `json:"barcode,omitempty"`
}

// SaveLink builds the signed save-to-wallet URL for first-time provisioning.
// The token is valid for at most five minutes and embeds the card's current
// balance; the remote object does not need to exist yet.
func (g *GoogleSync) SaveLink(ctx context.Context, cardID string) (string, error) {
	if g.cfg.PrivateKey == nil {
		return "", fmt.Errorf("%w: google service-account key not configured", ErrSigning)
	}

	card, err := g.cards.GetCard(ctx, cardID)
	if err != nil {
		return "", err
	}

	obj := loyaltyObject{
		ID:      g.ObjectID(card.ID),
		ClassID: g.ClassID(card.OrgID),
		State:   "ACTIVE",
		LoyaltyPoints: &loyaltyPoints{
			Label:   "Stamps",
			Balance: loyaltyBalance{String: card.Balance()},
		},
		Barcode: &loyaltyBarcode{
			Type:  "QR_CODE",
			Value: g.cfg.CardBaseURL + "/" + card.ID,
		},
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": g.cfg.ServiceAccountEmail,
		"aud": "google",
		"typ": "savetowallet",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"payload": map[string]any{
			"loyaltyObjects": []loyaltyObject{obj},
		},
	}
	if len(g.cfg.Origins) > 0 {
		claims["origins"] = g.cfg.Origins
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return g.cfg.SaveBaseURL + signed, nil
}

// PushBalanceUpdate re-reads the card and patches only the balance field of
// the remote object. Fails with store.ErrNotFound when the object was never
// provisioned or is not active; objects are never created server-side.
func (g *GoogleSync) PushBalanceUpdate(ctx context.Context, cardID string) error {
	card, err := g.cards.GetCard(ctx, cardID)
	if err != nil {
		return err
	}

	objectID := g.ObjectID(card.ID)
	remote, err := g.getObject(ctx, objectID)
	if err != nil {
		return err
	}
	if remote.State != "" && !strings.EqualFold(remote.State, "ACTIVE") {
		return fmt.Errorf("loyalty object %s is %s: %w", objectID, remote.State, store.ErrNotFound)
	}

	patch := loyaltyObject{
		LoyaltyPoints: &loyaltyPoints{Balance: loyaltyBalance{String: card.Balance()}},
	}
	return g.patchObject(ctx, objectID, patch)
}

// SetState transitions the remote object's lifecycle state (e.g. ACTIVE,
// INACTIVE) independent of balance.
func (g *GoogleSync) SetState(ctx context.Context, cardID, state string) error {
	objectID := g.ObjectID(cardID)
	if _, err := g.getObject(ctx, objectID); err != nil {
		return err
	}
	return g.patchObject(ctx, objectID, loyaltyObject{State: state})
}

func (g *GoogleSync) getObject(ctx context.Context, objectID string) (loyaltyObject, error) {
	accessToken, err := g.accessToken(ctx)
	if err != nil {
		return loyaltyObject{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/loyaltyObject/"+url.PathEscape(objectID), nil)
	if err != nil {
		return loyaltyObject{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return loyaltyObject{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return loyaltyObject{}, fmt.Errorf("loyalty object %s: %w", objectID, store.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return loyaltyObject{}, fmt.Errorf("get loyalty object %s: status %d", objectID, resp.StatusCode)
	}

	var obj loyaltyObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return loyaltyObject{}, err
	}
	return obj, nil
}

func (g *GoogleSync) patchObject(ctx context.Context, objectID string, patch loyaltyObject) error {
	accessToken, err := g.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, g.cfg.BaseURL+"/loyaltyObject/"+url.PathEscape(objectID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("loyalty object %s: %w", objectID, store.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("patch loyalty object %s: status %d: %s", objectID, resp.StatusCode, msg)
	}
	return nil
}

// accessToken exchanges a fresh service-account assertion for a bearer
// token. Built per call on purpose: caching invites expiry bugs and the
// exchange is cheap next to the API call it fronts.
func (g *GoogleSync) accessToken(ctx context.Context) (string, error) {
	if g.cfg.PrivateKey == nil {
		return "", fmt.Errorf("%w: google service-account key not configured", ErrSigning)
	}

	now := time.Now()
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   g.cfg.ServiceAccountEmail,
		"scope": walletScope,
		"aud":   g.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(g.cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token exchange: empty access_token")
	}
	return tokenResp.AccessToken, nil
}

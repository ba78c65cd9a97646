package fcm

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/sygnalgo/pushgateway/internal/platform/credcache"
)

// fcmMessagingScope is the only OAuth2 scope the v1 send API needs.
const fcmMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// oauthMintFunc builds the credcache.MintFunc that exchanges a service
// account's private key for a short-lived OAuth2 access token, used to
// authenticate FCM v1 send calls (spec.md §4.5 "HTTP v1 endpoint ... OAuth2
// service-account credentials").
func oauthMintFunc(serviceAccountFile string) credcache.MintFunc {
	return func(ctx context.Context) (credcache.Credential, error) {
		raw, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return credcache.Credential{}, fmt.Errorf("fcm: read service account file: %w", err)
		}
		cfg, err := google.JWTConfigFromJSON(raw, fcmMessagingScope)
		if err != nil {
			return credcache.Credential{}, fmt.Errorf("fcm: parse service account file: %w", err)
		}
		tok, err := cfg.TokenSource(ctx).Token()
		if err != nil {
			return credcache.Credential{}, fmt.Errorf("fcm: mint oauth2 token: %w", err)
		}
		expiry := tok.Expiry
		if expiry.IsZero() {
			expiry = time.Now().Add(time.Hour)
		}
		return credcache.Credential{Value: tok.AccessToken, ExpiresAt: expiry}, nil
	}
}

package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidTrackingToken = errors.New("invalid tracking token")

// 🖼️ TransparentGIF returns a 1x1 transparent GIF
func TransparentGIF() []byte {
	const transparentPixel = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"
	decoded, _ := base64.StdEncoding.DecodeString(transparentPixel)
	return decoded
}

// 🌐 GetIPAddress gets the real IP address from request
func GetIPAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrackingClaims are carried by tracking links and preference links
type TrackingClaims struct {
	ConversionID string `json:"cid,omitempty"`
	CandidateID  string `json:"candidateId,omitempty"`
	CampaignID   string `json:"campaignId,omitempty"`
	jwt.RegisteredClaims
}

// 🔏 SignTrackingToken signs claims with HS256
func SignTrackingToken(secret string, claims TrackingClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign tracking token: %w", err)
	}
	return signed, nil
}

// 🔍 ParseTrackingToken verifies a token produced by SignTrackingToken
func ParseTrackingToken(secret, tokenString string) (*TrackingClaims, error) {
	claims := &TrackingClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrackingToken, err)
	}
	return claims, nil
}

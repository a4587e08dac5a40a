package model

import (
	"fmt"
	"strings"
)

type Provider string

const (
	Microsoft Provider = "microsoft"
	Google    Provider = "google"
)

// ParseProvider maps a configured provider name onto a known Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case Microsoft:
		return Microsoft, nil
	case Google:
		return Google, nil
	}
	return "", fmt.Errorf("unsupported provider %q", s)
}

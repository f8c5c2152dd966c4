package domain

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// Access codes avoid I, O, 0 and 1.
const (
	AccessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	AccessCodeLength   = 6
)

// Principal is the actor operations run on behalf of. A guest carries only the
// access code it was admitted with.
type Principal struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	Guest      bool   `json:"guest"`
	AccessCode string `json:"accessCode,omitempty"`
}

type Permission int

const (
	PermissionNone Permission = iota
	PermissionViewer
	PermissionEditor
	PermissionOwner
)

func (p Permission) String() string {
	switch p {
	case PermissionOwner:
		return "owner"
	case PermissionEditor:
		return "editor"
	case PermissionViewer:
		return "viewer"
	default:
		return "none"
	}
}

func (p Permission) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p Permission) CanView() bool   { return p >= PermissionViewer }
func (p Permission) CanEdit() bool   { return p >= PermissionEditor }
func (p Permission) CanManage() bool { return p == PermissionOwner }

func NewAccessCode() (string, error) {
	return newAccessCode(rand.Reader)
}

func newAccessCode(r io.Reader) (string, error) {
	max := big.NewInt(int64(len(AccessCodeAlphabet)))
	var b strings.Builder
	b.Grow(AccessCodeLength)
	for range AccessCodeLength {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		b.WriteByte(AccessCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsAccessCode(code string) bool {
	if len(code) != AccessCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(AccessCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

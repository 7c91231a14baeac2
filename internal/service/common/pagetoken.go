package common

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/afroboost/campaign-scheduler/pkg/errors"
)

// EncodePageToken turns a store paging state into an opaque URL-safe token.
// An empty state yields an empty token.
func EncodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePageToken reverses EncodePageToken. A bad token is a validation error.
func DecodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
	}
	return state, nil
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationDraft_Validate(t *testing.T) {
	tests := []struct {
		name    string
		draft   OperationDraft
		wantErr bool
	}{
		{
			name: "valid post",
			draft: OperationDraft{
				Type:     "approve",
				Endpoint: "/defects/42/approve",
				Method:   MethodPost,
				Payload:  json.RawMessage(`{}`),
			},
			wantErr: false,
		},
		{
			name: "valid delete without payload",
			draft: OperationDraft{
				Type:     "remove",
				Endpoint: "/inspections/7",
				Method:   MethodDelete,
			},
			wantErr: false,
		},
		{
			name: "missing endpoint",
			draft: OperationDraft{
				Type:   "approve",
				Method: MethodPost,
			},
			wantErr: true,
		},
		{
			name: "get is not a mutation",
			draft: OperationDraft{
				Type:     "read",
				Endpoint: "/inspections",
				Method:   "GET",
			},
			wantErr: true,
		},
		{
			name: "unknown method",
			draft: OperationDraft{
				Type:     "approve",
				Endpoint: "/defects/42",
				Method:   "FETCH",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCacheEntry_Expired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt int64
		now       int64
		want      bool
	}{
		{name: "never expires", expiresAt: 0, now: 999999, want: false},
		{name: "before expiry", expiresAt: 1000, now: 999, want: false},
		{name: "at expiry", expiresAt: 1000, now: 1000, want: true},
		{name: "after expiry", expiresAt: 1000, now: 1001, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Key: "k", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, entry.Expired(tt.now))
		})
	}
}

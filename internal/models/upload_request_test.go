package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     UploadRequest
		wantErr error
	}{
		{"missing owner", UploadRequest{ReqSeq: 1}, ErrOwnerRequired},
		{"missing req_seq", UploadRequest{UsrID: 1}, ErrReqSeqRequired},
		{"valid", UploadRequest{UsrID: 1, ReqSeq: 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUploadRequest_TableName(t *testing.T) {
	assert.Equal(t, "upload_requests", UploadRequest{}.TableName())
}

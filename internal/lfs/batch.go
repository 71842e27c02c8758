// Package lfs implements the Git-LFS Batch API, upload verification, and
// the resolve-download redirect, matching the JSON shapes the Git-LFS
// client expects for its batch/verify transfer protocol.
package lfs

import (
	"context"
	"fmt"
	"time"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/storage"
)

// BatchRequest is the Git-LFS Batch API request body.
type BatchRequest struct {
	Operation string        `json:"operation"` // "upload" or "download"
	Transfers []string      `json:"transfers,omitempty"`
	Objects   []BatchObject `json:"objects"`
}

// BatchObject is one requested object in a batch request/response.
type BatchObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// Link is an action URL with any headers the client must send.
type Link struct {
	Href      string            `json:"href"`
	Header    map[string]string `json:"header,omitempty"`
	ExpiresIn int               `json:"expires_in,omitempty"`
}

// BatchObjectError reports why an object's batch entry failed.
type BatchObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BatchResponseObject is one object entry in a batch response.
type BatchResponseObject struct {
	OID     string           `json:"oid"`
	Size    int64            `json:"size"`
	Actions map[string]*Link `json:"actions,omitempty"`
	Error   *BatchObjectError `json:"error,omitempty"`
}

// BatchResponse is the Git-LFS Batch API response body.
type BatchResponse struct {
	Transfer string                `json:"transfer"`
	Objects  []BatchResponseObject `json:"objects"`
}

// Service implements the Batch/verify/resolve operations against a storage
// Gateway. It holds no state of its own beyond the gateway and expiries.
type Service struct {
	Storage         *storage.Gateway
	UploadExpiry    time.Duration
	DownloadExpiry  time.Duration
}

// NewService builds an lfs.Service with default expiries (15 min upload,
// 1 h download), overridable via Config.
func NewService(gw *storage.Gateway, uploadExpiry, downloadExpiry time.Duration) *Service {
	if uploadExpiry == 0 {
		uploadExpiry = 15 * time.Minute
	}
	if downloadExpiry == 0 {
		downloadExpiry = time.Hour
	}
	return &Service{Storage: gw, UploadExpiry: uploadExpiry, DownloadExpiry: downloadExpiry}
}

// Batch implements the Git-LFS Batch API for both "upload" and "download"
// operations.
func (s *Service) Batch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	resp := &BatchResponse{Transfer: "basic", Objects: make([]BatchResponseObject, 0, len(req.Objects))}
	for _, obj := range req.Objects {
		key := storage.LFSKey(obj.OID)
		head, err := s.Storage.Head(ctx, key)
		if err != nil {
			return nil, err
		}

		switch req.Operation {
		case "upload":
			if head.Exists && head.Size == obj.Size {
				// Object already present: omit actions entirely so the
				// client skips the upload.
				resp.Objects = append(resp.Objects, BatchResponseObject{OID: obj.OID, Size: obj.Size})
				continue
			}
			uploadURL, err := s.Storage.PresignPut(ctx, key, obj.Size, obj.OID, s.UploadExpiry)
			if err != nil {
				return nil, err
			}
			resp.Objects = append(resp.Objects, BatchResponseObject{
				OID:  obj.OID,
				Size: obj.Size,
				Actions: map[string]*Link{
					"upload": {Href: uploadURL, ExpiresIn: int(s.UploadExpiry.Seconds())},
				},
			})
		case "download":
			if !head.Exists {
				resp.Objects = append(resp.Objects, BatchResponseObject{
					OID: obj.OID, Size: obj.Size,
					Error: &BatchObjectError{Code: 404, Message: "object not found"},
				})
				continue
			}
			downloadURL, err := s.Storage.PresignGet(ctx, key, s.DownloadExpiry)
			if err != nil {
				return nil, err
			}
			resp.Objects = append(resp.Objects, BatchResponseObject{
				OID:  obj.OID,
				Size: obj.Size,
				Actions: map[string]*Link{
					"download": {Href: downloadURL, ExpiresIn: int(s.DownloadExpiry.Seconds())},
				},
			})
		default:
			return nil, huberr.BadRequest(fmt.Sprintf("unsupported lfs batch operation %q", req.Operation))
		}
	}
	return resp, nil
}

// VerifyRequest is the body of POST .../info/lfs/verify.
type VerifyRequest struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// Verify re-heads the uploaded blob and confirms its size. Returns
// huberr.BadRequest if the object is missing or the size doesn't match.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) error {
	head, err := s.Storage.Head(ctx, storage.LFSKey(req.OID))
	if err != nil {
		return err
	}
	if !head.Exists {
		return huberr.BadRequest("lfs object was not uploaded")
	}
	if head.Size != req.Size {
		return huberr.BadRequest(fmt.Sprintf("lfs object size mismatch: expected %d, got %d", req.Size, head.Size))
	}
	return nil
}

// PointerText renders the canonical 3-line LFS pointer text for oid/size
// (also reused by the Git bridge, which needs the identical bytes).
func PointerText(sha256 string, size int64) string {
	return fmt.Sprintf("version https://git-lfs.github.com/spec/v1\noid sha256:%s\nsize %d\n", sha256, size)
}

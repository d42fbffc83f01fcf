package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"

	"agentregistry/internal/blob"
	"agentregistry/pkg/domain"
)

const imagePrefix = "images/"

// ImageKey returns the blob key an image with the given hash is stored under.
func ImageKey(hash ContentHash) string {
	return imagePrefix + hash.Hex()
}

// PutImage stores body under its keccak256 hash and returns the hash for use
// in ResourceSpecification.Images. Storing the same bytes again is a no-op.
func (s *Service) PutImage(ctx context.Context, by Principal, body []byte, contentType string) (ContentHash, error) {
	registered, err := s.IsRegistered(ctx, by)
	if err != nil {
		return ContentHash{}, err
	}
	if !registered {
		return ContentHash{}, fmt.Errorf("%w: %s", domain.ErrNotRegistered, by.Hex())
	}
	hash := crypto.Keccak256Hash(body)
	_, err = s.blobs.Put(ctx, ImageKey(hash), bytes.NewReader(body), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"uploader": by.Hex()},
	})
	switch {
	case err == nil:
		s.logger.Info("image stored", "hash", hash.Hex(), "size", len(body), "principal", by.Hex())
	case errors.Is(err, blob.ErrExists):
		s.logger.Debug("image already stored", "hash", hash.Hex())
	default:
		return ContentHash{}, fmt.Errorf("store image %s: %w", hash.Hex(), err)
	}
	return hash, nil
}

// GetImage returns the bytes stored for hash.
func (s *Service) GetImage(ctx context.Context, hash ContentHash) (blob.Info, []byte, error) {
	info, rc, err := s.blobs.Get(ctx, ImageKey(hash))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return blob.Info{}, nil, fmt.Errorf("%w: %s", domain.ErrImageNotFound, hash.Hex())
		}
		return blob.Info{}, nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return blob.Info{}, nil, fmt.Errorf("read image %s: %w", hash.Hex(), err)
	}
	return info, body, nil
}

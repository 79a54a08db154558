package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/example/shelf-sync/internal/types"
)

const digestMetaKey = "Credential-Digest"

// ObjectStore keeps each document as documents/<id>.tsv in an S3-compatible
// bucket, with the credential digest in the object's user metadata.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore constructs an ObjectStore for bucket.
func NewObjectStore(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Fetch implements Store.
func (s *ObjectStore) Fetch(ctx context.Context, id, credential string) (string, error) {
	const op = "remote fetch"

	obj, err := s.client.GetObject(ctx, s.bucket, objectPath(id), minio.GetObjectOptions{})
	if err != nil {
		return "", classifyObject(op, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return "", classifyObject(op, err)
	}
	if !digestMatches(userMeta(info, digestMetaKey), credential) {
		return "", types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", classifyObject(op, err)
	}
	return string(data), nil
}

// Create implements Store.
func (s *ObjectStore) Create(ctx context.Context, credential, text string) (string, error) {
	id := uuid.NewString()
	if err := s.put(ctx, id, credential, text); err != nil {
		return "", classifyObject("remote create", err)
	}
	return id, nil
}

// Update implements Store.
func (s *ObjectStore) Update(ctx context.Context, id, credential, text string) error {
	const op = "remote update"

	info, err := s.client.StatObject(ctx, s.bucket, objectPath(id), minio.StatObjectOptions{})
	if err != nil {
		return classifyObject(op, err)
	}
	if !digestMatches(userMeta(info, digestMetaKey), credential) {
		return types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
	}
	if err := s.put(ctx, id, credential, text); err != nil {
		return classifyObject(op, err)
	}
	return nil
}

func (s *ObjectStore) put(ctx context.Context, id, credential, text string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath(id), strings.NewReader(text), int64(len(text)), minio.PutObjectOptions{
		ContentType:  "text/tab-separated-values; charset=utf-8",
		UserMetadata: map[string]string{digestMetaKey: credentialDigest(credential)},
	})
	return err
}

func objectPath(id string) string {
	return fmt.Sprintf("documents/%s.tsv", id)
}

// userMeta looks a user metadata key up case-insensitively; servers differ in
// how they canonicalize the header names.
func userMeta(info minio.ObjectInfo, key string) string {
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, key) || strings.EqualFold(k, "X-Amz-Meta-"+key) {
			return v
		}
	}
	return ""
}

func classifyObject(op string, err error) error {
	if isCanceled(err) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return types.NewError(types.CodeNotFound, op, "document not found", nil)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return types.NewError(types.CodeUnauthorized, op, resp.Message, nil)
	case "SlowDown", "TooManyRequests":
		return types.NewError(types.CodeRateLimited, op, resp.Message, nil)
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	return types.NewError(types.CodeNetwork, op, "object storage request failed", err)
}

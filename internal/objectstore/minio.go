// Package objectstore holds finalized form copies in an S3-compatible
// bucket, keyed by (ownerId, formType, formId), with redaction markers
// carried as object user metadata.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"formvault/api/internal/forms"
)

// Metadata keys honored by the asynchronous redaction job.
const (
	MetaDeleteType  = "Delete-Type"
	MetaFixedFields = "Fixed-Fields"

	DeleteTypePartial = "PARTIAL"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Store{client: client, bucket: bucket}, nil
}

func key(ownerID string, t forms.Type, id string) string {
	return fmt.Sprintf("%s/%s/%s.json", ownerID, t, id)
}

func (s *Store) PutForm(ctx context.Context, form forms.Form) error {
	content, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("encode form %s: %w", form.ID, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key(form.OwnerID, form.Type, form.ID),
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put form %s: %w", form.ID, err)
	}
	return nil
}

func (s *Store) GetForm(ctx context.Context, t forms.Type, id, ownerID string) (forms.Form, bool, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key(ownerID, t, id), minio.GetObjectOptions{})
	if err != nil {
		return forms.Form{}, false, fmt.Errorf("get form %s: %w", id, err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return forms.Form{}, false, nil
		}
		return forms.Form{}, false, fmt.Errorf("read form %s: %w", id, err)
	}
	var form forms.Form
	if err := json.Unmarshal(content, &form); err != nil {
		return forms.Form{}, false, fmt.Errorf("decode form %s: %w", id, err)
	}
	return form, true, nil
}

func (s *Store) ListForms(ctx context.Context, t forms.Type, ownerID string) ([]forms.Form, error) {
	prefix := fmt.Sprintf("%s/%s/", ownerID, t)
	out := make([]forms.Form, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list forms under %s: %w", prefix, info.Err)
		}
		object, err := s.client.GetObject(ctx, s.bucket, info.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("get listed form %s: %w", info.Key, err)
		}
		content, err := io.ReadAll(object)
		object.Close()
		if err != nil {
			return nil, fmt.Errorf("read listed form %s: %w", info.Key, err)
		}
		var form forms.Form
		if err := json.Unmarshal(content, &form); err != nil {
			return nil, fmt.Errorf("decode listed form %s: %w", info.Key, err)
		}
		out = append(out, form)
	}
	return out, nil
}

func (s *Store) DeleteForm(ctx context.Context, t forms.Type, id, ownerID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key(ownerID, t, id), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("delete form %s: %w", id, err)
	}
	return nil
}

// MarkPartialDelete rewrites the object's metadata in place (server-side
// copy) so the maintenance job can apply the redaction later. A missing
// object is not an error: there is nothing left to redact.
func (s *Store) MarkPartialDelete(ctx context.Context, t forms.Type, id, ownerID string, fixedFields []string) error {
	objectKey := key(ownerID, t, id)
	if _, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			log.Printf("objectstore: no stored copy to mark for %s/%s/%s", ownerID, t, id)
			return nil
		}
		return fmt.Errorf("stat form %s: %w", id, err)
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          s.bucket,
			Object:          objectKey,
			ReplaceMetadata: true,
			UserMetadata: map[string]string{
				MetaDeleteType:  DeleteTypePartial,
				MetaFixedFields: strings.Join(fixedFields, ","),
			},
		},
		minio.CopySrcOptions{Bucket: s.bucket, Object: objectKey},
	)
	if err != nil {
		return fmt.Errorf("mark form %s for redaction: %w", id, err)
	}
	return nil
}

package upload

import (
	"bytes"
	"context"

	storage "github.com/supabase-community/storage-go"
)

// SupabaseStore keeps attachment blobs in a Supabase storage bucket and
// serves them through its public URL endpoint.
type SupabaseStore struct {
	client *storage.Client
	bucket string
}

func NewSupabaseStore(url, apiKey, bucket string) *SupabaseStore {
	return &SupabaseStore{
		client: storage.NewClient(url, apiKey, nil),
		bucket: bucket,
	}
}

func (s *SupabaseStore) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	ct := contentType
	if _, err := s.client.UploadFile(s.bucket, name, bytes.NewReader(data), storage.FileOptions{
		ContentType: &ct,
	}); err != nil {
		return "", err
	}
	return s.client.GetPublicUrl(s.bucket, name).SignedURL, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.RemoveFile(s.bucket, []string{name})
	return err
}

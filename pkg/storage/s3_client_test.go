package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectAPI struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.contentTypes[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeObjectAPI) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeObjectAPI) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeObjectAPI) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeObjectAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjectAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	api := newFakeObjectAPI()
	store := NewS3StoreWithAPI(api)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "exports", "journal/a.xlsx", strings.NewReader("payload"), "application/octet-stream"))
	assert.Equal(t, "application/octet-stream", api.contentTypes["exports/journal/a.xlsx"])

	rc, err := store.Download(ctx, "exports", "journal/a.xlsx")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, store.Delete(ctx, "exports", "journal/a.xlsx"))
	_, err = store.Download(ctx, "exports", "journal/a.xlsx")
	assert.Error(t, err)
}

func TestS3StoreRequiresBucket(t *testing.T) {
	store := NewS3StoreWithAPI(newFakeObjectAPI())
	assert.Error(t, store.Upload(context.Background(), "", "k", strings.NewReader("x"), ""))
}

func TestS3StorePresignWithoutClient(t *testing.T) {
	store := NewS3StoreWithAPI(newFakeObjectAPI())
	_, err := store.GetPresignedURL(context.Background(), "b", "k", time.Minute)
	assert.Error(t, err)
}

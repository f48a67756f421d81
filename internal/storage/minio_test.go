package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() MinioConfig {
	return MinioConfig{
		Endpoint:  "https://s3.example.com",
		Region:    "ap-northeast-2",
		Bucket:    "crm-uploads",
		AccessKey: "key",
		SecretKey: "secret",
	}
}

func TestMinioConfigNormalize(t *testing.T) {
	host, secure, err := validConfig().normalize()
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	cfg := validConfig()
	cfg.Endpoint = "http://localhost:9000/"
	cfg.UseSSL = true
	host, secure, err = cfg.normalize()
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	cfg = validConfig()
	cfg.Bucket = ""
	_, _, err = cfg.normalize()
	assert.Error(t, err)

	cfg = validConfig()
	cfg.Endpoint = "https://s3.example.com/bucket"
	_, _, err = cfg.normalize()
	assert.Error(t, err)
}

func TestObjectURL(t *testing.T) {
	u, err := NewMinioUploader(validConfig())
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/crm-uploads/uploads/a%20b.csv", u.objectURL("uploads/a b.csv"))

	cfg := validConfig()
	cfg.PublicURL = "https://cdn.example.com/"
	u, err = NewMinioUploader(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/x.csv", u.objectURL("uploads/x.csv"))
}

func TestUploadRejectsEmptyInput(t *testing.T) {
	u, err := NewMinioUploader(validConfig())
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), UploadInput{Key: " ", Body: []byte("x")})
	assert.Error(t, err)
	_, err = u.Upload(context.Background(), UploadInput{Key: "a.csv"})
	assert.Error(t, err)

	_, err = NoopUploader{}.Upload(context.Background(), UploadInput{Key: "a.csv", Body: []byte("x")})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

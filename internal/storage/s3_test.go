package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestRetryWithBackoff(t *testing.T) {
	s := &S3Storage{maxRetries: 2}
	ctx := context.Background()

	attempts := 0
	err := s.retryWithBackoff(ctx, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Errorf("expected success on second attempt, got err=%v attempts=%d", err, attempts)
	}

	attempts = 0
	err = s.retryWithBackoff(ctx, func() error {
		attempts++
		return fmt.Errorf("get: %w", &types.NoSuchKey{})
	})
	if !isNotFound(err) || attempts != 1 {
		t.Errorf("missing objects must not be retried: err=%v attempts=%d", err, attempts)
	}
}

func TestRetryWithBackoff_Canceled(t *testing.T) {
	s := &S3Storage{maxRetries: 3}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.retryWithBackoff(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("expected immediate cancel, got err=%v called=%v", err, called)
	}
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), "", DefaultS3Config()); err == nil {
		t.Error("expected error for empty bucket")
	}
}

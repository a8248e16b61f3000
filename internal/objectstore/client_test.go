package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RejectsEmptyBucket(t *testing.T) {
	_, err := New(context.Background(), "", Config{Region: "us-east-1"})
	assert.Error(t, err)
}

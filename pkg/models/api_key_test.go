package models_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestAPIKey_Active(t *testing.T) {
	key := &models.APIKey{Name: "backend"}
	assert.True(t, key.Active())

	revoked := time.Now()
	key.RevokedAt = &revoked
	assert.False(t, key.Active())
}

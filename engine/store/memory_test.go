package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/engine/store"
	"github.com/mag/policy-engine/engine/store/storetest"
	"github.com/stretchr/testify/assert"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.Store {
		return store.NewMemory()
	})
}

func TestMemory_DeleteConfigValue(t *testing.T) {
	// GIVEN: A store missing the commission threshold
	m := store.NewMemory()
	m.DeleteConfigValue(engine.KeyCommissionThreshold)

	// WHEN: The engine configuration is loaded
	_, err := engine.NewFromSource(context.Background(), m)

	// THEN: Loading fails with a configuration error naming the key
	var ce *engine.ConfigurationError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, engine.KeyCommissionThreshold, ce.Key)
}

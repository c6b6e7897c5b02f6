package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/database/mock"
)

func TestResolveEmployee(t *testing.T) {
	store := mock.NewStore()
	store.AddEmployee(database.Employee{ID: "e-ana", RUT: "12345678-5", EmployeeCode: "EMP001", Name: "Ana", Active: true})
	ctx := context.Background()

	for _, ref := range []string{"e-ana", "12.345.678-5", "123456785", " EMP001 "} {
		emp, err := resolveEmployee(ctx, store, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "e-ana", emp.ID, ref)
	}

	_, err := resolveEmployee(ctx, store, "EMP404")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Ana", truncate("Ana", 5))
	assert.Equal(t, "Ana M…", truncate("Ana María Pérez", 6))
}

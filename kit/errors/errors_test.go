package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Code: EQuerySyntax,
		Msg:  "unexpected token at line 1",
		Op:   "query.Parse",
		Err:  fmt.Errorf("boom"),
	}
	assert.Equal(t, "unexpected token at line 1: boom", err.Error())
	assert.Equal(t, EQuerySyntax, ErrorCode(err))
	assert.Equal(t, "query.Parse", ErrorOp(err))
	assert.Equal(t, "unexpected token at line 1", ErrorMessage(err))
}

func TestErrorCodeNested(t *testing.T) {
	inner := &Error{Code: EStorage, Msg: "io failure"}
	outer := &Error{Op: "index.Open", Err: inner}
	assert.Equal(t, EStorage, ErrorCode(outer))
	assert.Equal(t, "index.Open", ErrorOp(outer))
	assert.Equal(t, "io failure", ErrorMessage(outer))
}

func TestFaultCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{EQuerySyntax, FaultBadRequest},
		{EQueryExecution, FaultBadRequest},
		{EValidate, FaultBadRequest},
		{ESchema, FaultBadRequest},
		{ENotFound, FaultBadRequest},
		{EUnauthorized, FaultNotAuthorized},
		{EInternal, FaultInternal},
		{EStorage, FaultInternal},
		{EGeneratorCorrupt, FaultInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FaultCode(&Error{Code: tt.code}), tt.code)
	}
	assert.Equal(t, FaultInternal, FaultCode(fmt.Errorf("plain")))
}
